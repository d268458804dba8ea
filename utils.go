package formprobe

import (
	"math/rand"
	"regexp"
	"strings"
	"time"
)

var localPartAlphabet = "0123456789abcdefghijklmnopqrstuvwxyz"

var defaultPassword = "!123456qW"
var defaultEmailDomains = []string{"gmail.com", "yahoo.com", "outlook.com"}
var defaultWords = []string{"qqqqq", "foobar", "qwerty", "test", "xyest", "x", "d'arcy", "a&b"}
var defaultSentences = []string{"some text goes here", "i am fuzzzzzzzzzzy", "lorem ipsum dolor sit amet"}

// Chooser picks an index in [0, n). *rand.Rand satisfies it.
type Chooser interface {
	Intn(n int) int
}

// FixedChooser always picks the first candidate.
type FixedChooser struct{}

func (FixedChooser) Intn(int) int { return 0 }

func NewRandomChooser(seed int64) *rand.Rand {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return rand.New(rand.NewSource(seed))
}

// SeedChooser cycles over the code points of a seed string, so a given seed
// always yields the same sequence.
type SeedChooser struct {
	seed    []int
	current int
}

func NewSeedChooser(seed string) *SeedChooser {
	sc := &SeedChooser{}
	for _, c := range seed {
		sc.seed = append(sc.seed, int(c))
	}
	return sc
}

func (sc *SeedChooser) Intn(max int) int {
	if len(sc.seed) == 0 || max <= 0 {
		return 0
	}
	val := sc.seed[sc.current] % max
	sc.current = (sc.current + 1) % len(sc.seed)
	return val
}

func choose(c Chooser, arr []string) string {
	if len(arr) == 0 {
		return ""
	}
	return arr[c.Intn(len(arr))]
}

func randString(c Chooser, alphabet string, length int) string {
	result := make([]byte, length)
	for i := range result {
		result[i] = alphabet[c.Intn(len(alphabet))]
	}
	return string(result)
}

// NormalizeURL adds an https scheme when none is given and ensures a
// trailing slash on bare hosts and paths.
func NormalizeURL(targetURL string) string {
	targetURL = strings.TrimSpace(targetURL)
	if targetURL == "" {
		return ""
	}
	if !strings.Contains(targetURL, "://") {
		targetURL = "https://" + targetURL
	}
	if strings.ContainsAny(targetURL, "?#") {
		return targetURL
	}
	return strings.TrimRight(targetURL, "/") + "/"
}

func MatchesExcludedURL(urlStr string, patterns []string) bool {
	for _, pattern := range patterns {
		matched, err := regexp.MatchString(pattern, urlStr)
		if err == nil && matched {
			return true
		}
	}
	return false
}

func StringSliceContains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}

func RemoveDuplicateStrings(slice []string) []string {
	seen := make(map[string]bool)
	result := make([]string, 0, len(slice))
	for _, item := range slice {
		if !seen[item] {
			seen[item] = true
			result = append(result, item)
		}
	}
	return result
}
