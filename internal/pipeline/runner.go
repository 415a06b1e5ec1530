// Package pipeline invokes the external neuroimaging pipeline binary on a
// produced bundle. The binary is independently maintained; this package only
// selects a processing profile, runs the command, and surfaces failures with
// the captured output.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"

	"github.com/carbocation/pfx"
	"github.com/gobuffalo/packr"
)

// Profile selects one of the predefined processing configurations.
type Profile string

// Profiles holds the argument lists for each known profile, loaded from the
// packaged profile table.
type Profiles map[Profile][]string

// LoadProfiles reads the packaged profile table.
func LoadProfiles() (Profiles, error) {
	box := packr.NewBox("./profiles")

	raw, err := box.Find("profiles.json")
	if err != nil {
		return nil, pfx.Err(err)
	}

	profiles := Profiles{}
	if err := json.Unmarshal(raw, &profiles); err != nil {
		return nil, pfx.Err(err)
	}

	return profiles, nil
}

// RunError carries the pipeline's captured output alongside the exit failure,
// since the binary's own diagnostics are the only way to debug a bad run.
type RunError struct {
	Profile Profile
	Output  string
	Err     error
}

func (e *RunError) Error() string {
	return fmt.Sprintf("pipeline profile %s: %v | output: %s", e.Profile, e.Err, e.Output)
}

func (e *RunError) Unwrap() error { return e.Err }

// Runner executes the pipeline binary.
type Runner struct {
	bin      string
	profiles Profiles
}

func NewRunner(bin string, profiles Profiles) *Runner {
	return &Runner{bin: bin, profiles: profiles}
}

// Run executes the binary on one bundle with the arguments of the selected
// profile. A nonzero exit is fatal and includes combined stdout/stderr.
func (r *Runner) Run(ctx context.Context, bundlePath string, profile Profile) error {
	args, ok := r.profiles[profile]
	if !ok {
		return fmt.Errorf("unknown processing profile %q", profile)
	}

	cmdArgs := append(append([]string{}, args...), bundlePath)

	out, err := exec.CommandContext(ctx, r.bin, cmdArgs...).CombinedOutput()
	if err != nil {
		return &RunError{Profile: profile, Output: string(out), Err: err}
	}

	return nil
}
