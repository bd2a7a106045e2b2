package setup

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io/ioutil"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
)

// Stamps records which steps completed and what they looked like at the time. A step whose
// definition changes gets a new fingerprint and runs again.
type Stamps struct {
	path    string
	entries map[string]string
}

// LoadStamps reads the stamps file at path. A missing file yields an empty set.
func LoadStamps(path string) (*Stamps, error) {
	stamps := &Stamps{
		path:    path,
		entries: map[string]string{},
	}

	data, err := ioutil.ReadFile(path)
	if err != nil {
		if eris.Is(err, os.ErrNotExist) {
			return stamps, nil
		}
		return nil, eris.Wrapf(err, "Failed to read stamps file %s.", path)
	}

	err = json.Unmarshal(data, &stamps.entries)
	if err != nil {
		return nil, eris.Wrapf(err, "Failed to parse JSON file %s.", path)
	}

	if stamps.entries == nil {
		stamps.entries = map[string]string{}
	}

	return stamps, nil
}

func (s *Stamps) Path() string {
	return s.path
}

func (s *Stamps) Get(step string) string {
	return s.entries[step]
}

func (s *Stamps) Set(step, fingerprint string) {
	s.entries[step] = fingerprint
}

// Forget removes the given steps or all of them if no names are passed
func (s *Stamps) Forget(steps ...string) {
	if len(steps) == 0 {
		s.entries = map[string]string{}
		return
	}

	for _, name := range steps {
		delete(s.entries, name)
	}
}

// Names returns the stamped steps in alphabetical order
func (s *Stamps) Names() []string {
	names := make([]string, 0, len(s.entries))
	for name := range s.entries {
		names = append(names, name)
	}
	sort.Strings(names)

	return names
}

// Save writes the stamps back to disk
func (s *Stamps) Save() error {
	err := os.MkdirAll(filepath.Dir(s.path), 0700)
	if err != nil {
		return eris.Wrapf(err, "Failed to create directory for %s", s.path)
	}

	data, err := json.MarshalIndent(s.entries, "", "  ")
	if err != nil {
		return eris.Wrap(err, "Failed to encode stamps")
	}

	err = ioutil.WriteFile(s.path, data, 0600)
	if err != nil {
		return eris.Wrapf(err, "Failed to write %s", s.path)
	}

	return nil
}

// Fingerprint hashes everything that influences what the step does
func (t *Step) Fingerprint() string {
	hash := sha256.New()
	fmt.Fprintf(hash, "desc=%s\nbase=%s\nprobe=%s\n", t.Desc, t.Base, t.Probe)

	keys := make([]string, 0, len(t.Env))
	for k := range t.Env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(hash, "env %s=%s\n", k, t.Env[k])
	}

	for _, req := range t.Requires {
		fmt.Fprintf(hash, "requires %s\n", req)
	}

	for _, cmd := range t.Cmds {
		switch cmd := cmd.(type) {
		case StepCmdFetch:
			fmt.Fprintf(hash, "cmd download %s#%s -> %s strip=%d mark_exec=%s\n", cmd.Spec.URL, cmd.Spec.Sha256,
				cmd.Spec.Dest, cmd.Spec.Strip, strings.Join(cmd.Spec.MarkExec, ","))
		case StepCmdNote:
			// notes only change what's logged
		default:
			fmt.Fprintf(hash, "cmd %s\n", cmd.String())
		}
	}

	return hex.EncodeToString(hash.Sum(nil))
}
