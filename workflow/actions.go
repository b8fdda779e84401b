package workflow

import (
	"fmt"
	"strings"
)

// Built-in actions. A step may reference one of these with `uses:`
// instead of spelling out a `run:` command; the compiler expands the
// reference into a plain shell step before the engine sees it.
//
// Cache paths are resolved against SHUTTLE_CACHE_DIR, which every
// engine exports inside the step environment.

var ErrUnknownAction = func(name string) error {
	return fmt.Errorf("unknown action %q", name)
}

type actionFunc func(with map[string]string, trigger Trigger) (name, command string, err error)

var actions = map[string]actionFunc{
	"checkout":      checkoutAction,
	"setup-runtime": setupRuntimeAction,
	"restore-cache": restoreCacheAction,
	"save-cache":    saveCacheAction,
}

// ExpandStep resolves a `uses:` reference into a runnable step. Steps
// that already carry a command pass through untouched.
func ExpandStep(s Step, trigger Trigger) (Step, error) {
	if s.Uses == "" {
		return s, nil
	}

	action, ok := actions[s.Uses]
	if !ok {
		return s, ErrUnknownAction(s.Uses)
	}

	name, command, err := action(s.With, trigger)
	if err != nil {
		return s, fmt.Errorf("expanding %q: %w", s.Uses, err)
	}

	if s.Name == "" {
		s.Name = name
	}
	s.Run = command
	s.Uses = ""
	s.With = nil

	return s, nil
}

// checkoutAction checks out the ref the trigger points at. The clone
// itself is injected by the engine as a system step; an explicit
// checkout only makes sense with `clone.skip` or to move to another
// ref mid-workflow.
func checkoutAction(with map[string]string, trigger Trigger) (string, string, error) {
	ref := with["ref"]
	if ref == "" {
		ref = trigger.Ref()
	}
	if ref == "" {
		return "", "", fmt.Errorf("no ref to check out")
	}

	cmd := fmt.Sprintf("git config advice.detachedHead false; git checkout --progress --force %s", ref)
	return "Checkout ref " + ref, cmd, nil
}

// setupRuntimeAction pins a language runtime version and primes the
// package-manager cache directory for it. The runtime binary is
// expected to come from the workflow image; this step only verifies
// the pin and prepares the cache.
func setupRuntimeAction(with map[string]string, _ Trigger) (string, string, error) {
	runtime := with["runtime"]
	if runtime == "" {
		runtime = "python"
	}

	version := with["version"]
	if version == "" {
		return "", "", fmt.Errorf("setup-runtime requires a version")
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%s --version | grep -F %q", runtime, version)

	if cache := with["cache"]; cache != "" {
		fmt.Fprintf(&sb, ` && mkdir -p "$SHUTTLE_CACHE_DIR/%s"`, cache)
	}

	return fmt.Sprintf("Set up %s %s", runtime, version), sb.String(), nil
}

func restoreCacheAction(with map[string]string, _ Trigger) (string, string, error) {
	key, path, err := cacheOpts(with)
	if err != nil {
		return "", "", err
	}

	cmd := fmt.Sprintf(
		`if [ -f "$SHUTTLE_CACHE_DIR/%s.tar" ]; then tar -xf "$SHUTTLE_CACHE_DIR/%s.tar" -C %s; fi`,
		key, key, path,
	)
	return "Restore cache " + key, cmd, nil
}

func saveCacheAction(with map[string]string, _ Trigger) (string, string, error) {
	key, path, err := cacheOpts(with)
	if err != nil {
		return "", "", err
	}

	cmd := fmt.Sprintf(`tar -cf "$SHUTTLE_CACHE_DIR/%s.tar" -C %s .`, key, path)
	return "Save cache " + key, cmd, nil
}

func cacheOpts(with map[string]string) (key, path string, err error) {
	key = with["key"]
	if key == "" {
		return "", "", fmt.Errorf("cache steps require a key")
	}

	path = with["path"]
	if path == "" {
		path = "."
	}

	return key, path, nil
}
