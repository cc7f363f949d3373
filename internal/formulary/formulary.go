// Package formulary suggests essential-medicines drugs for a diagnosis by
// matching indication tags against the diagnosis text.
package formulary

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

//go:embed catalog.json
var defaultCatalog []byte

// Result statuses.
const (
	StatusSuccess  = "success"
	StatusNotFound = "not_found"
)

// Drug is one catalog entry.
type Drug struct {
	ID              string   `json:"id"`
	GenericName     string   `json:"generic_name"`
	NHISLevel       string   `json:"nhis_level"`
	Formulation     string   `json:"formulation"`
	AdultDosage     string   `json:"adult_dosage"`
	SafetyWarning   string   `json:"safety_warning"`
	IndicationsTags []string `json:"indications_tags,omitempty"`
}

// Result is the answer to a suggestion query.
type Result struct {
	Status    string `json:"status"`
	Diagnosis string `json:"diagnosis"`
	Matches   []Drug `json:"matches"`
	Count     int    `json:"count"`
	Message   string `json:"message,omitempty"`
}

// Catalog holds the drug list in memory. It is safe for concurrent use and
// can be reloaded from disk without a restart.
type Catalog struct {
	path   string
	logger zerolog.Logger

	mu    sync.RWMutex
	drugs []Drug
}

// Option configures a Catalog.
type Option func(*Catalog)

// WithLogger sets the structured logger.
func WithLogger(l zerolog.Logger) Option { return func(c *Catalog) { c.logger = l } }

// Load reads the catalog at path, or the bundled catalog when path is empty.
func Load(path string, opts ...Option) (*Catalog, error) {
	c := &Catalog{path: path, logger: zerolog.Nop()}
	for _, opt := range opts {
		opt(c)
	}
	if err := c.Reload(); err != nil {
		return nil, err
	}
	return c, nil
}

// Reload re-reads the catalog source. On error the previous contents stay active.
func (c *Catalog) Reload() error {
	data := defaultCatalog
	if c.path != "" {
		b, err := os.ReadFile(c.path)
		if err != nil {
			return fmt.Errorf("read formulary %s: %w", c.path, err)
		}
		data = b
	}
	drugs, err := parse(data)
	if err != nil {
		return fmt.Errorf("parse formulary: %w", err)
	}
	c.mu.Lock()
	c.drugs = drugs
	c.mu.Unlock()
	c.logger.Info().Int("drugs", len(drugs)).Str("path", c.path).Msg("formulary loaded")
	return nil
}

// Len reports the number of drugs loaded.
func (c *Catalog) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.drugs)
}

// Suggest returns every drug with an indication tag contained in the
// diagnosis, each at most once, ordered by NHIS level A, B, C then unknown.
// Catalog order is kept within a level.
func (c *Catalog) Suggest(diagnosis string) Result {
	needle := strings.ToLower(strings.TrimSpace(diagnosis))
	if needle == "" {
		return Result{Status: StatusNotFound, Diagnosis: diagnosis, Matches: []Drug{}, Message: "Invalid diagnosis input"}
	}
	c.mu.RLock()
	matches := make([]Drug, 0)
	for _, d := range c.drugs {
		for _, tag := range d.IndicationsTags {
			if t := strings.ToLower(strings.TrimSpace(tag)); t != "" && strings.Contains(needle, t) {
				matches = append(matches, clone(d))
				break
			}
		}
	}
	c.mu.RUnlock()

	sort.SliceStable(matches, func(i, j int) bool {
		return levelRank(matches[i].NHISLevel) < levelRank(matches[j].NHISLevel)
	})
	if len(matches) == 0 {
		return Result{Status: StatusNotFound, Diagnosis: diagnosis, Matches: matches, Message: "No NHIS-compliant drug found"}
	}
	return Result{Status: StatusSuccess, Diagnosis: diagnosis, Matches: matches, Count: len(matches)}
}

// Drug looks a drug up by id.
func (c *Catalog) Drug(id string) (Drug, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, d := range c.drugs {
		if d.ID == id {
			return clone(d), true
		}
	}
	return Drug{}, false
}

func levelRank(level string) int {
	switch strings.ToUpper(strings.TrimSpace(level)) {
	case "A":
		return 1
	case "B":
		return 2
	case "C":
		return 3
	default:
		return 999
	}
}

func clone(d Drug) Drug {
	d.IndicationsTags = append([]string(nil), d.IndicationsTags...)
	return d
}

// rawDrug tolerates malformed tag lists: non-list tags disable matching for
// the drug and non-string tags are skipped.
type rawDrug struct {
	Drug
	Tags any `json:"indications_tags"`
}

func parse(data []byte) ([]Drug, error) {
	var raw []rawDrug
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	out := make([]Drug, 0, len(raw))
	for _, r := range raw {
		d := r.Drug
		d.IndicationsTags = nil
		if list, ok := r.Tags.([]any); ok {
			for _, t := range list {
				if s, isString := t.(string); isString {
					d.IndicationsTags = append(d.IndicationsTags, s)
				}
			}
		}
		out = append(out, d)
	}
	return out, nil
}
