// Package tags translates scraped Korean genre tags for display.
package tags

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sort"
	"strings"

	"golang.org/x/text/unicode/norm"
	"gopkg.in/yaml.v3"

	"SleeperScout/internal/ports"
)

var builtins = map[string]string{
	"판타지":    "Fantasy",
	"현대판타지":  "Modern Fantasy",
	"현판":     "Modern Fantasy",
	"무협":     "Martial Arts",
	"로맨스":    "Romance",
	"로판":     "Romance Fantasy",
	"로맨스판타지": "Romance Fantasy",
	"현대":     "Modern",
	"라이트노벨":  "Light Novel",
	"SF":     "Sci-Fi",
	"공포":     "Horror",
	"미스터리":   "Mystery",
	"스포츠":    "Sports",
	"대체역사":   "Alternate History",
	"전쟁":     "War",
	"하렘":     "Harem",
	"성인":     "19+",
	"19금":    "19+",
	"순애":     "Pure Love",
	"착각":     "Misunderstanding",
	"회귀":     "Regression",
	"빙의":     "Possession",
	"환생":     "Reincarnation",
	"게임":     "Game",
	"헌터":     "Hunter",
	"아카데미":   "Academy",
	"TS":     "Gender Bender",
	"먼치킨":    "Overpowered MC",
	"일상":     "Slice of Life",
	"코미디":    "Comedy",
	"피폐":     "Dark",
	"복수":     "Revenge",
	"던전":     "Dungeon",
	"마법":     "Magic",
	"용사":     "Hero",
	"마왕":     "Demon King",
	"여주":     "Female Lead",
	"남주":     "Male Lead",
	"육성":     "Raising",
	"경영":     "Management",
	"성좌":     "Constellations",
	"아포칼립스":  "Apocalypse",
	"좀비":     "Zombie",
	"히로인":    "Heroine",
	"플러스":    "Plus",
	"완결":     "Completed",
}

// Dictionary is a read-only token to translation map.
type Dictionary struct {
	entries map[string]string
}

var _ ports.Dictionary = (*Dictionary)(nil)

// New returns the built-in dictionary with extra entries layered on top.
func New(extra map[string]string) *Dictionary {
	entries := make(map[string]string, len(builtins)+len(extra))
	for k, v := range builtins {
		entries[key(k)] = v
	}
	for k, v := range extra {
		k, v = key(k), strings.TrimSpace(v)
		if k == "" || v == "" {
			continue
		}
		entries[k] = v
	}
	return &Dictionary{entries: entries}
}

// Load reads a YAML mapping (token: translation) and merges it over the
// built-ins. An empty path or a missing file yields the built-ins only.
func Load(path string) (*Dictionary, error) {
	extra, err := ReadFile(path)
	if err != nil {
		return nil, err
	}
	return New(extra), nil
}

// ReadFile returns the user entries stored at path, without built-ins.
func ReadFile(path string) (map[string]string, error) {
	if path == "" {
		return map[string]string{}, nil
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read dictionary: %w", err)
	}

	extra := map[string]string{}
	if err := yaml.Unmarshal(data, &extra); err != nil {
		return nil, fmt.Errorf("decode dictionary: %w", err)
	}
	return extra, nil
}

// WriteFile stores entries at path as YAML, sorted by token.
func WriteFile(path string, entries map[string]string) error {
	node := &yaml.Node{Kind: yaml.MappingNode}
	keys := make([]string, 0, len(entries))
	for k := range entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		node.Content = append(node.Content,
			&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: k},
			&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: entries[k]},
		)
	}

	data, err := yaml.Marshal(node)
	if err != nil {
		return fmt.Errorf("encode dictionary: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write dictionary: %w", err)
	}
	return nil
}

// Translate returns the translation for token, or token itself on a miss.
func (d *Dictionary) Translate(token string) string {
	if v, ok := d.entries[key(token)]; ok {
		return v
	}
	return token
}

// TranslateAll maps Translate over tokens.
func (d *Dictionary) TranslateAll(tokens []string) []string {
	out := make([]string, len(tokens))
	for i, t := range tokens {
		out[i] = d.Translate(t)
	}
	return out
}

// Missing lists the distinct tokens with no translation, sorted. It feeds the
// offline enrichment job.
func (d *Dictionary) Missing(tokens []string) []string {
	seen := map[string]bool{}
	var out []string
	for _, t := range tokens {
		k := key(t)
		if k == "" || seen[k] {
			continue
		}
		seen[k] = true
		if _, ok := d.entries[k]; !ok {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out
}

// Len reports the number of entries.
func (d *Dictionary) Len() int {
	return len(d.entries)
}

func key(token string) string {
	return norm.NFC.String(strings.TrimSpace(token))
}
