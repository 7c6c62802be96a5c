package env

import (
	"os"
	"sort"
	"strings"

	"github.com/loykin/nodevisor/internal/nodeerr"
)

type Var map[string]string

// Pair is one KEY=VALUE override in the order it was given.
type Pair struct {
	Key   string
	Value string
}

func (p Pair) String() string { return p.Key + "=" + p.Value }

// Parse splits a whitespace separated list of KEY=VALUE tokens.
// Every token must contain exactly one '='; the first bad token fails the
// whole list and nothing is returned.
func Parse(spec string) ([]Pair, error) {
	fields := strings.Fields(spec)
	out := make([]Pair, 0, len(fields))
	for _, tok := range fields {
		if strings.Count(tok, "=") != 1 {
			return nil, nodeerr.ConfigParse(tok)
		}
		k, v, _ := strings.Cut(tok, "=")
		out = append(out, Pair{Key: k, Value: v})
	}
	return out, nil
}

// Args splits the argument spec into the argument vector appended to the
// node invocation. Tokens are kept verbatim.
func Args(spec string) []string {
	f := strings.Fields(spec)
	if len(f) == 0 {
		return nil
	}
	return f
}

type Env struct {
	env Var // cached base from OS environment
}

func New() *Env { return &Env{} }

// FromOS caches the current process environment as the base.
func (e *Env) FromOS() {
	base := make(Var)
	for _, kv := range os.Environ() {
		if i := strings.IndexByte(kv, '='); i >= 0 {
			k := kv[:i]
			if k == "" {
				continue
			}
			base[k] = kv[i+1:]
		}
	}
	e.env = base
}

// Merge applies overrides onto the ambient environment and returns the
// result in "K=V" form, sorted by key.
func (e *Env) Merge(overrides []Pair) []string {
	if e.env == nil {
		e.FromOS()
	}
	m := make(Var, len(e.env)+len(overrides))
	for k, v := range e.env {
		m[k] = v
	}
	for _, p := range overrides {
		if p.Key == "" { // "=x" parses but cannot be exported
			continue
		}
		m[p.Key] = p.Value
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k+"="+m[k])
	}
	return out
}
