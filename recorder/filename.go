package recorder

import (
	"strings"
	"time"
)

const (
	// UnknownTitle replaces a missing stream title in filenames.
	UnknownTitle = "Unknown Title"

	maxTitleRunes = 200
	fileTimeFmt   = "2006-01-02 15:04"
)

var pathSeparators = strings.NewReplacer("/", "_", "\\", "_")

// SanitizeTitle replaces path separators with "_" and truncates to 200
// characters. An empty title becomes UnknownTitle.
func SanitizeTitle(title string) string {
	if title == "" {
		return UnknownTitle
	}
	s := pathSeparators.Replace(title)
	if r := []rune(s); len(r) > maxTitleRunes {
		s = string(r[:maxTitleRunes])
	}
	return s
}

// FileName builds "YYYY-MM-DD HH:MM {short} {channel} {title}.mp4".
func FileName(ts time.Time, shortName, channel, title string) string {
	return ts.Format(fileTimeFmt) + " " + shortName + " " + channel + " " + SanitizeTitle(title) + ".mp4"
}
