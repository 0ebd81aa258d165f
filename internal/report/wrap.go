package report

import "strings"

// WrapText breaks text into lines no wider than maxWidth as reported by
// measure. Words are placed greedily; a single word wider than maxWidth
// gets a line of its own. Explicit newlines start a new line.
func WrapText(measure func(string) float64, text string, maxWidth float64) []string {
	var lines []string
	for _, para := range strings.Split(text, "\n") {
		words := strings.Fields(para)
		if len(words) == 0 {
			continue
		}
		line := words[0]
		for _, w := range words[1:] {
			candidate := line + " " + w
			if measure(candidate) <= maxWidth {
				line = candidate
				continue
			}
			lines = append(lines, line)
			line = w
		}
		lines = append(lines, line)
	}
	return lines
}
