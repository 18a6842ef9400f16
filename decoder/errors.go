package decoder

import "fmt"

// ExtractionError is returned when a marker or pattern the decode pipeline
// depends on cannot be found in the chapter page or the chapter script.
type ExtractionError struct {
	What string // e.g. "key", "iv", "imgsrcs"
	Hint string
}

func (e *ExtractionError) Error() string {
	if e.Hint == "" {
		return fmt.Sprintf("extraction failed: %s not found", e.What)
	}
	return fmt.Sprintf("extraction failed: %s not found (%s)", e.What, e.Hint)
}

// DeobfuscationError is returned when the chapter script does not match the
// obfuscation scheme the Deobfuscator knows how to reverse.
type DeobfuscationError struct {
	Scheme string
	Reason string
}

func (e *DeobfuscationError) Error() string {
	return fmt.Sprintf("deobfuscation failed: scheme=%s reason=%s", e.Scheme, e.Reason)
}

// DecryptionError wraps every failure of the image list cipher.
type DecryptionError struct {
	Err error
}

func (e *DecryptionError) Error() string {
	return fmt.Sprintf("decryption failed: %v", e.Err)
}

func (e *DecryptionError) Unwrap() error {
	return e.Err
}
