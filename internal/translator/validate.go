package translator

import (
	"github.com/MimeLyc/srt-translator/internal/errs"
	"github.com/MimeLyc/srt-translator/internal/subtitle"
)

// Validate parses a backend response and checks it against the request
// entries: same block count, same index sequence. The result keeps the
// request's index and timing and takes only the text from the response.
func Validate(request []subtitle.Entry, response string) ([]subtitle.Entry, error) {
	got := subtitle.Parse(response)
	if len(got) != len(request) {
		return nil, errs.New(errs.KindBackendStructural, "translated block count does not match the request").
			WithContext("want", len(request)).
			WithContext("got", len(got))
	}

	out := make([]subtitle.Entry, len(request))
	for i := range request {
		if !got[i].SameIndex(request[i]) {
			return nil, errs.New(errs.KindBackendStructural, "translated block index does not match the request").
				WithContext("position", i).
				WithContext("want", request[i].IndexText()).
				WithContext("got", got[i].IndexText())
		}
		out[i] = request[i].WithLines(got[i].Lines)
	}
	return out, nil
}
