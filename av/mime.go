package av

import (
	"errors"
	"fmt"
	"mime"
	"strings"
)

var ErrInvalidMime = errors.New("av: invalid mime type")

// Family is a container format family.
type Family uint8

const (
	FamilyUnknown Family = iota
	FamilyMP4
	FamilyMatroska
)

func (f Family) String() string {
	switch f {
	case FamilyMP4:
		return "mp4"
	case FamilyMatroska:
		return "matroska"
	}
	return "unknown"
}

// MIME is a parsed `<container>/<subtype>; codecs="<video>,<audio>"` value.
type MIME struct {
	Container  string
	Subtype    string
	VideoCodec string
	AudioCodec string
}

func ParseMIME(s string) (MIME, error) {
	var m MIME
	typ, params, err := mime.ParseMediaType(s)
	switch {
	case errors.Is(err, mime.ErrInvalidMediaParameter):
		// unquoted lists such as codecs=vp8,opus
		params = looseParams(s)
	case err != nil:
		return m, fmt.Errorf("%w: %q", ErrInvalidMime, s)
	}
	i := strings.IndexByte(typ, '/')
	if i <= 0 || i == len(typ)-1 {
		return m, fmt.Errorf("%w: %q", ErrInvalidMime, s)
	}
	m.Container, m.Subtype = typ[:i], typ[i+1:]
	for _, c := range strings.Split(params["codecs"], ",") {
		c = strings.TrimSpace(c)
		switch CodecKind(c) {
		case Video:
			if m.VideoCodec == "" {
				m.VideoCodec = c
			}
		case Audio:
			if m.AudioCodec == "" {
				m.AudioCodec = c
			}
		}
	}
	return m, nil
}

func looseParams(s string) map[string]string {
	params := map[string]string{}
	parts := strings.Split(s, ";")
	for _, p := range parts[1:] {
		k, v, ok := strings.Cut(strings.TrimSpace(p), "=")
		if !ok {
			continue
		}
		params[strings.ToLower(strings.TrimSpace(k))] = strings.Trim(strings.TrimSpace(v), `"'`)
	}
	return params
}

// Family derives the container family from the subtype.
func (m MIME) Family() Family {
	switch m.Subtype {
	case "mp4", "quicktime", "iso.segment", "x-m4a", "x-m4v":
		return FamilyMP4
	case "webm", "x-matroska", "matroska":
		return FamilyMatroska
	}
	return FamilyUnknown
}

func (m MIME) Codecs() []string {
	var codecs []string
	if m.VideoCodec != "" {
		codecs = append(codecs, m.VideoCodec)
	}
	if m.AudioCodec != "" {
		codecs = append(codecs, m.AudioCodec)
	}
	return codecs
}

func (m MIME) String() string {
	s := m.Container + "/" + m.Subtype
	if codecs := m.Codecs(); len(codecs) > 0 {
		s += `; codecs="` + strings.Join(codecs, ",") + `"`
	}
	return s
}

var videoPrefixes = []string{"avc1", "avc3", "hvc1", "hev1", "hevc", "vp8", "vp08", "vp9", "vp09", "av01", "av1", "avc"}
var audioPrefixes = []string{"mp4a", "aac", "opus", "vorbis", "flac"}

// CodecKind classifies a codec string by its family prefix. It returns 0 for
// unknown codecs.
func CodecKind(codec string) Kind {
	c := strings.ToLower(codec)
	for _, p := range videoPrefixes {
		if strings.HasPrefix(c, p) {
			return Video
		}
	}
	for _, p := range audioPrefixes {
		if strings.HasPrefix(c, p) {
			return Audio
		}
	}
	return 0
}

var families = []struct {
	prefix string
	family string
}{
	{"avc", "avc"},
	{"hvc", "hevc"},
	{"hev", "hevc"},
	{"vp8", "vp8"},
	{"vp08", "vp8"},
	{"vp9", "vp9"},
	{"vp09", "vp9"},
	{"av01", "av1"},
	{"av1", "av1"},
	{"mp4a", "aac"},
	{"aac", "aac"},
	{"opus", "opus"},
	{"vorbis", "vorbis"},
	{"flac", "flac"},
}

// CodecFamily normalizes a codec string to avc, hevc, vp8, vp9, av1, aac,
// opus, vorbis or flac. Unknown codecs yield "".
func CodecFamily(codec string) string {
	c := strings.ToLower(codec)
	for _, f := range families {
		if strings.HasPrefix(c, f.prefix) {
			return f.family
		}
	}
	return ""
}
