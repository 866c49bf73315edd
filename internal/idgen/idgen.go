package idgen

import (
	"fmt"
	"math/rand"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/google/uuid"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

const (
	defaultRandomDigits = 6
	maxRandomDigits     = 12
)

// Options controls the shape of generated identifiers.
type Options struct {
	// Prefix is prepended to every identifier, usually a short entity tag.
	Prefix string
	// Separator joins the prefix, timestamp and random segments.
	Separator string
	// RandomDigits is the fixed width of the random segment (1-12, default 6).
	RandomDigits int
}

// Generator produces time-ordered identifiers of the form
// prefix<sep><unix-ms><sep><random digits>. The random segment is always
// zero-padded to its configured width so identifiers sort lexically.
type Generator struct {
	opts Options
	max  int64
}

// New returns a Generator for the given options, applying defaults for
// out-of-range values.
func New(opts Options) *Generator {
	if opts.RandomDigits <= 0 {
		opts.RandomDigits = defaultRandomDigits
	}
	if opts.RandomDigits > maxRandomDigits {
		opts.RandomDigits = maxRandomDigits
	}
	max := int64(1)
	for i := 0; i < opts.RandomDigits; i++ {
		max *= 10
	}
	return &Generator{opts: opts, max: max}
}

// New returns the next identifier.
func (g *Generator) New() string {
	return g.newID(g.opts.Prefix)
}

func (g *Generator) newID(prefix string) string {
	parts := make([]string, 0, 3)
	if prefix != "" {
		parts = append(parts, prefix)
	}
	parts = append(parts,
		strconv.FormatInt(time.Now().UnixMilli(), 10),
		fmt.Sprintf("%0*d", g.opts.RandomDigits, rand.Int63n(g.max)),
	)
	return strings.Join(parts, g.opts.Separator)
}

// EntityKind tags an identifier with the kind of record it names.
type EntityKind string

const (
	KindRecord   EntityKind = "rec"
	KindOrder    EntityKind = "ord"
	KindProduct  EntityKind = "prd"
	KindCustomer EntityKind = "cus"
	KindPage     EntityKind = "pag"
)

var defaultGenerator = New(Options{Separator: "_"})

// NewEntityID returns an identifier prefixed with the entity kind, such as
// rec_1724567890123_042317.
func NewEntityID(kind EntityKind) string {
	return defaultGenerator.newID(string(kind))
}

// NewUUID returns a random UUID string.
func NewUUID() string {
	return uuid.NewString()
}

var (
	seqMu     sync.Mutex
	sequences = make(map[string]int64)
)

// NextSequence returns the next value of a named in-process counter, starting
// at 1. Counters are not shared between processes and reset on restart, so
// they are only suitable for ordering within a single instance.
func NextSequence(key string) int64 {
	seqMu.Lock()
	defer seqMu.Unlock()
	sequences[key]++
	return sequences[key]
}

// stripMarks decomposes characters and removes their combining marks, turning
// "é" into "e".
var stripMarks = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// GenerateSlug turns arbitrary text into a URL-safe slug: accents removed,
// lowercased, whitespace and separators collapsed to single hyphens, all
// other punctuation dropped.
func GenerateSlug(value string) string {
	flat, _, err := transform.String(stripMarks, value)
	if err != nil {
		flat = value
	}
	flat = strings.ToLower(flat)
	var b strings.Builder
	b.Grow(len(flat))
	pendingBoundary := false
	for _, r := range flat {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			if pendingBoundary && b.Len() > 0 {
				b.WriteByte('-')
			}
			pendingBoundary = false
			b.WriteRune(r)
		case unicode.IsSpace(r), r == '-', r == '_':
			pendingBoundary = true
		}
	}
	return b.String()
}
