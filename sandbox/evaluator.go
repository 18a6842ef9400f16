package sandbox

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dop251/goja"
	"go.uber.org/zap"
)

const (
	renImgStart = "var renImg = function(img,width,height,id){"
	renImgEnd   = "key = key.split("

	keyFunction = "getDescramblingKey"
)

// Lines referencing any of these identifiers touch the DOM or the canvas and
// are dropped before the fragment is compiled.
var jsFilters = []string{"jQuery", "document", "getContext", "toDataURL", "getImageData", "width", "height"}

// replacePosProgram is the only helper made available inside the sandbox.
// Compiled once and run into every fresh runtime.
var replacePosProgram = goja.MustCompile("replacePos.js", `
function replacePos(strObj, pos, replacetext) {
    var str = strObj.substr(0, pos) + replacetext + strObj.substring(pos + 1, strObj.length);
    return str;
}
`, false)

// KeyDerivationError is returned for a single image whose descrambling key
// could not be computed. It never affects other pages of the chapter.
type KeyDerivationError struct {
	ImageURL string
	Err      error
}

func (e *KeyDerivationError) Error() string {
	return fmt.Sprintf("key derivation failed for %s: %v", e.ImageURL, e.Err)
}

func (e *KeyDerivationError) Unwrap() error {
	return e.Err
}

// ErrFragmentNotFound means the renImg anchors are missing from the script.
var ErrFragmentNotFound = errors.New("renImg key fragment not found")

// Evaluator runs the site's key derivation fragment in an isolated goja
// runtime. It holds no runtime itself, so one Evaluator may be shared by
// concurrent callers.
type Evaluator struct {
	timeout time.Duration
	log     *zap.Logger
}

// NewEvaluator creates an Evaluator; timeout bounds each evaluation.
func NewEvaluator(timeout time.Duration, log *zap.Logger) *Evaluator {
	if log == nil {
		log = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Evaluator{timeout: timeout, log: log.Named("sandbox")}
}

// ExtractKeyFragment isolates the statements of renImg that compute the
// descrambling key, drops every DOM/canvas line and rewrites img.src to the
// url parameter of the wrapper.
func ExtractKeyFragment(script string) (string, error) {
	start := strings.Index(script, renImgStart)
	if start < 0 {
		return "", ErrFragmentNotFound
	}
	body := script[start+len(renImgStart):]

	end := strings.Index(body, renImgEnd)
	if end < 0 {
		return "", ErrFragmentNotFound
	}
	body = body[:end]

	lines := strings.Split(body, "\n")
	kept := lines[:0]
	for _, line := range lines {
		if containsAny(line, jsFilters) {
			continue
		}
		kept = append(kept, line)
	}

	return strings.ReplaceAll(strings.Join(kept, "\n"), "img.src", "url"), nil
}

// DeriveKey computes the descrambling key for imageURL. Every call gets its
// own runtime, released before DeriveKey returns.
func (e *Evaluator) DeriveKey(ctx context.Context, script, imageURL string) (string, error) {
	fragment, err := ExtractKeyFragment(script)
	if err != nil {
		return "", &KeyDerivationError{ImageURL: imageURL, Err: err}
	}

	key, err := e.run(ctx, fragment, imageURL)
	if err != nil {
		e.log.Warn("⚠️ key derivation failed", zap.String("url", imageURL), zap.Error(err))
		return "", &KeyDerivationError{ImageURL: imageURL, Err: err}
	}

	e.log.Debug("✓ derived descrambling key", zap.String("url", imageURL), zap.Int("length", len(key)))
	return key, nil
}

func (e *Evaluator) run(ctx context.Context, fragment, imageURL string) (key string, err error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	vm := goja.New()

	// Watchdog: interrupt on timeout or cancellation.
	done := make(chan struct{})
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		select {
		case <-done:
		case <-ctx.Done():
			vm.Interrupt(ctx.Err())
		}
	}()
	defer func() {
		close(done)
		<-stopped
	}()

	// Attacker-authored code may panic the host through goja internals.
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("sandbox panic: %v", r)
		}
	}()

	if _, err := vm.RunProgram(replacePosProgram); err != nil {
		return "", fmt.Errorf("failed to load helper: %w", err)
	}

	wrapper := "function " + keyFunction + "(url) {\n" + fragment + ";\nreturn key;\n}"
	if _, err := vm.RunString(wrapper); err != nil {
		return "", fmt.Errorf("failed to compile key fragment: %w", unwrapInterrupt(err))
	}

	fn, ok := goja.AssertFunction(vm.Get(keyFunction))
	if !ok {
		return "", fmt.Errorf("%s is not callable", keyFunction)
	}

	val, err := fn(goja.Undefined(), vm.ToValue(imageURL))
	if err != nil {
		return "", fmt.Errorf("key fragment raised: %w", unwrapInterrupt(err))
	}
	if val == nil || goja.IsUndefined(val) || goja.IsNull(val) {
		return "", errors.New("key fragment returned no value")
	}

	return val.String(), nil
}

func unwrapInterrupt(err error) error {
	var interrupted *goja.InterruptedError
	if errors.As(err, &interrupted) {
		return fmt.Errorf("execution interrupted: %v", interrupted.Value())
	}
	return err
}

func containsAny(s string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(s, n) {
			return true
		}
	}
	return false
}
