package language

import (
	"fmt"
	"strings"

	"golang.org/x/text/language"

	"github.com/MimeLyc/srt-translator/internal/errs"
)

// Target is a supported translation target.
type Target struct {
	Code string `json:"code"`
	Name string `json:"name"`
}

// Tag returns the BCP 47 tag of the target.
func (t Target) Tag() language.Tag {
	tag, err := language.Parse(t.Code)
	if err != nil {
		return language.Und
	}
	return tag
}

// targets is ordered as shown to users; Name is what the backend receives.
var targets = []Target{
	{"en", "English"},
	{"pt-BR", "Brazilian Portuguese"},
	{"pt-PT", "European Portuguese"},
	{"es", "Spanish"},
	{"fr", "French"},
	{"de", "German"},
	{"it", "Italian"},
	{"ja", "Japanese"},
	{"ko", "Korean"},
	{"zh-CN", "Simplified Chinese"},
	{"zh-TW", "Traditional Chinese"},
	{"ru", "Russian"},
	{"ar", "Arabic"},
	{"hi", "Hindi"},
	{"tr", "Turkish"},
	{"nl", "Dutch"},
	{"pl", "Polish"},
	{"vi", "Vietnamese"},
	{"th", "Thai"},
	{"id", "Indonesian"},
	{"ms", "Malay"},
	{"fil", "Filipino"},
	{"bn", "Bengali"},
	{"uk", "Ukrainian"},
	{"cs", "Czech"},
	{"sv", "Swedish"},
	{"da", "Danish"},
	{"fi", "Finnish"},
	{"el", "Greek"},
	{"he", "Hebrew"},
	{"hu", "Hungarian"},
	{"no", "Norwegian"},
	{"ro", "Romanian"},
	{"sk", "Slovak"},
	{"bg", "Bulgarian"},
	{"hr", "Croatian"},
	{"sr", "Serbian"},
	{"sl", "Slovenian"},
	{"et", "Estonian"},
	{"lv", "Latvian"},
	{"lt", "Lithuanian"},
	{"fa", "Persian"},
	{"ur", "Urdu"},
}

var byCode map[string]Target

func init() {
	byCode = make(map[string]Target, len(targets))
	for _, t := range targets {
		byCode[strings.ToLower(t.Code)] = t
	}
}

// All returns the supported targets in display order.
func All() []Target {
	return append([]Target(nil), targets...)
}

// Lookup resolves a code such as "pt-br" or "ZH-CN" to its canonical target.
func Lookup(code string) (Target, bool) {
	code = strings.TrimSpace(code)
	if code == "" {
		return Target{}, false
	}
	if t, ok := byCode[strings.ToLower(code)]; ok {
		return t, true
	}
	tag, err := language.Parse(code)
	if err != nil {
		return Target{}, false
	}
	t, ok := byCode[strings.ToLower(tag.String())]
	return t, ok
}

// Resolve is Lookup returning a configuration error for unknown codes.
func Resolve(code string) (Target, error) {
	t, ok := Lookup(code)
	if !ok {
		return Target{}, errs.New(errs.KindConfiguration, fmt.Sprintf("unsupported target language %q", code))
	}
	return t, nil
}

// Name returns the backend-facing language name, or "" for unknown codes.
func Name(code string) string {
	t, _ := Lookup(code)
	return t.Name
}
