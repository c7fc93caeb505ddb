// Package language identifies the sung language of an isolated vocal track
// and restricts it to the set the transcriber supports.
package language

import "strings"

// Code is a two-letter language code.
type Code string

// Default is returned whenever detection fails or yields an unsupported language.
const Default Code = "en"

var supported = []struct {
	code Code
	name string
}{
	{"en", "English"},
	{"es", "Spanish"},
	{"fr", "French"},
	{"de", "German"},
	{"hi", "Hindi"},
	{"ru", "Russian"},
	{"pt", "Portuguese"},
	{"ja", "Japanese"},
	{"it", "Italian"},
	{"nl", "Dutch"},
}

// regional collapses the regional variants the detector is known to emit.
var regional = map[string]Code{
	"zh-cn":  "zh",
	"zh-tw":  "zh",
	"pt-br":  "pt",
	"es-419": "es",
}

// Supported lists the supported codes in display order.
func Supported() []Code {
	out := make([]Code, len(supported))
	for i, s := range supported {
		out[i] = s.code
	}
	return out
}

func IsSupported(c Code) bool {
	for _, s := range supported {
		if s.code == c {
			return true
		}
	}
	return false
}

// Name returns the display name of c, falling back to the default
// language's name for unsupported codes.
func Name(c Code) string {
	for _, s := range supported {
		if s.code == c {
			return s.name
		}
	}
	return "English"
}

// Normalize lowercases raw and maps known regional variants to their base
// code. The result is not necessarily supported.
func Normalize(raw string) Code {
	lower := strings.ToLower(strings.TrimSpace(raw))
	if base, ok := regional[lower]; ok {
		return base
	}
	return Code(lower)
}

// Resolve normalizes raw and falls back to Default when the result is
// unsupported; ok is false in that case.
func Resolve(raw string) (c Code, ok bool) {
	c = Normalize(raw)
	if !IsSupported(c) {
		return Default, false
	}
	return c, true
}
