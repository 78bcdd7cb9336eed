// Package messages holds user-facing text, loaded from an embedded YAML
// catalog and optionally overridden from a directory.
package messages

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"text/template"

	yaml "gopkg.in/yaml.v3"

	"github.com/mcoot/islandgame/internal/model"
)

//go:embed messages.en.yaml
var defaultFiles embed.FS

const defaultFile = "messages.en.yaml"

// Keys used by the server
const (
	KeyGameForfeited      = "game_end.forfeit"
	KeyOpponentDisconnect = "game_end.disconnect"
	KeyMatchFailed        = "error.match_failed"
	KeyErrInvalidRequest  = "error.invalid_request"
	KeyErrIndexOutOfRange = "error.index_out_of_range"
	KeyErrInvalidName     = "error.invalid_name"
	KeyErrUserNotFound    = "error.user_not_found"
	KeyErrNameTaken       = "error.name_taken"
	KeyErrAlreadyQueued   = "error.already_queued"
	KeyErrAlreadyInGame   = "error.already_in_game"
	KeyErrInvalidGame     = "error.invalid_game"
	KeyErrNotActive       = "error.not_active"
	KeyErrNotParticipant  = "error.not_participant"
	KeyErrNotYourTurn     = "error.not_your_turn"
	KeyErrCellOccupied    = "error.cell_occupied"
	KeyErrServer          = "error.server"
)

// Keys used by islandctl play
const (
	KeyPlaySearching = "play.searching"
	KeyPlayMatched   = "play.matched"
	KeyPlayStarted   = "play.started"
	KeyPlayPrompt    = "play.prompt"
	KeyPlayWaiting   = "play.waiting"
	KeyPlayResult    = "play.result"
)

// Catalog maps dot-separated keys to message templates
type Catalog struct {
	mu   sync.RWMutex
	data map[string]string
}

// New loads the embedded messages, then applies every .yaml/.yml file in
// overrideDir (if set) in name order
func New(overrideDir string) (*Catalog, error) {
	c := &Catalog{data: make(map[string]string)}

	raw, err := fs.ReadFile(defaultFiles, defaultFile)
	if err != nil {
		return nil, fmt.Errorf("read embedded messages: %w", err)
	}
	if err := c.apply(raw); err != nil {
		return nil, fmt.Errorf("parse embedded messages: %w", err)
	}
	if strings.TrimSpace(overrideDir) != "" {
		if err := c.applyDir(overrideDir); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Default returns the embedded catalog. It panics if the embedded file is
// broken, which is a build defect.
func Default() *Catalog {
	c, err := New("")
	if err != nil {
		panic(err)
	}
	return c
}

func (c *Catalog) applyDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("read messages dir: %w", err)
	}
	files := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if ext == ".yaml" || ext == ".yml" {
			files = append(files, e.Name())
		}
	}
	sort.Strings(files)

	for _, name := range files {
		raw, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return fmt.Errorf("read %s: %w", name, err)
		}
		if err := c.apply(raw); err != nil {
			return fmt.Errorf("parse %s: %w", name, err)
		}
	}
	return nil
}

func (c *Catalog) apply(raw []byte) error {
	var tree map[string]any
	if err := yaml.Unmarshal(raw, &tree); err != nil {
		return err
	}
	flat := make(map[string]string)
	if err := flatten(tree, "", flat); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for k, v := range flat {
		c.data[k] = v
	}
	return nil
}

func flatten(src any, prefix string, out map[string]string) error {
	switch v := src.(type) {
	case map[string]any:
		for k, child := range v {
			key := k
			if prefix != "" {
				key = prefix + "." + k
			}
			if err := flatten(child, key, out); err != nil {
				return err
			}
		}
		return nil
	case string:
		if prefix == "" {
			return errors.New("string value without key")
		}
		out[prefix] = v
		return nil
	case nil:
		return nil
	default:
		// Only string leaves are allowed
		return fmt.Errorf("unsupported value at %s: %T", prefix, v)
	}
}

// Text returns the raw message for key, or the key itself if it is missing
func (c *Catalog) Text(key string) string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if msg, ok := c.data[key]; ok {
		return msg
	}
	return key
}

// Render executes the template for key with data. Missing keys and missing
// fields are errors.
func (c *Catalog) Render(key string, data any) (string, error) {
	c.mu.RLock()
	tpl, ok := c.data[key]
	c.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("message not found: %s", key)
	}
	t, err := template.New(key).Option("missingkey=error").Parse(tpl)
	if err != nil {
		return "", err
	}
	var b strings.Builder
	if err := t.Execute(&b, data); err != nil {
		return "", err
	}
	return b.String(), nil
}

// ErrorText returns the message shown to a player for err
func (c *Catalog) ErrorText(err error) string {
	return c.Text(errorKey(err))
}

func errorKey(err error) string {
	switch {
	case errors.Is(err, model.ErrIndexOutOfRange):
		return KeyErrIndexOutOfRange
	case errors.Is(err, model.ErrInvalidName):
		return KeyErrInvalidName
	case errors.Is(err, model.ErrInvalidRequest):
		return KeyErrInvalidRequest
	case errors.Is(err, model.ErrUserNotFound):
		return KeyErrUserNotFound
	case errors.Is(err, model.ErrNameTaken):
		return KeyErrNameTaken
	case errors.Is(err, model.ErrAlreadyQueued):
		return KeyErrAlreadyQueued
	case errors.Is(err, model.ErrAlreadyInGame):
		return KeyErrAlreadyInGame
	case errors.Is(err, model.ErrInvalidSession), errors.Is(err, model.ErrGameNotFound):
		return KeyErrInvalidGame
	case errors.Is(err, model.ErrNotActive):
		return KeyErrNotActive
	case errors.Is(err, model.ErrNotParticipant):
		return KeyErrNotParticipant
	case errors.Is(err, model.ErrNotYourTurn):
		return KeyErrNotYourTurn
	case errors.Is(err, model.ErrCellOccupied):
		return KeyErrCellOccupied
	default:
		return KeyErrServer
	}
}

// EndMessage returns the annotation for a game that ended early, or "" when
// the board filled up
func (c *Catalog) EndMessage(reason model.EndReason) string {
	switch reason {
	case model.EndReasonForfeit:
		return c.Text(KeyGameForfeited)
	case model.EndReasonDisconnect:
		return c.Text(KeyOpponentDisconnect)
	default:
		return ""
	}
}
