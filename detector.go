package xmlmode

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"
)

// Detector classifies XML documents as DTD- or XSD-validated.
// A Detector holds no per-document state and is safe for concurrent use.
type Detector struct {
	charset       charset
	maxLineLength int
	logger        *zap.Logger
}

// NewDetector creates a detector. It fails if the configured encoding is
// unknown.
func NewDetector(options ...Option) (*Detector, error) {
	opts := processOptions(options...)

	cs, err := lookupCharset(opts.Encoding)
	if err != nil {
		return nil, err
	}
	if opts.MaxLineLength <= 0 {
		return nil, fmt.Errorf("max line length must be positive (got %d)", opts.MaxLineLength)
	}

	return &Detector{
		charset:       cs,
		maxLineLength: opts.MaxLineLength,
		logger:        opts.Logger,
	}, nil
}

var defaultDetector = &Detector{
	charset:       utf8Charset,
	maxLineLength: DefaultMaxLineLength,
	logger:        zap.NewNop(),
}

// Detect detects the validation mode of the UTF-8 document in rc using
// default settings. rc is closed before Detect returns.
func Detect(rc io.ReadCloser) (ValidationMode, error) {
	return defaultDetector.Detect(rc)
}

// Detect detects the validation mode of the document in rc and closes rc
// before returning, whatever the outcome.
//
// A document that cannot be decoded yields ValidationAuto and a nil error.
// Any other read failure yields ValidationAuto and a *ScanError.
func (d *Detector) Detect(rc io.ReadCloser) (mode ValidationMode, err error) {
	defer func() {
		if closeErr := rc.Close(); closeErr != nil && err == nil {
			err = &ScanError{Op: "close", Err: closeErr}
		}
	}()

	return d.DetectReader(rc)
}

// DetectReader is like Detect but leaves r open.
func (d *Detector) DetectReader(r io.Reader) (ValidationMode, error) {
	if r == nil {
		return ValidationAuto, &ScanError{Op: "read", Err: errors.New("nil reader")}
	}

	// The scanner only enforces its limit when growing the buffer, so the
	// initial buffer must not exceed it.
	bufSize := 4096
	if d.maxLineLength < bufSize {
		bufSize = d.maxLineLength
	}
	decoded, sniffer := d.charset.reader(r)
	text := &textReader{r: decoded}
	lines := &lineSplitter{text: text, maxLength: d.maxLineLength}
	scanner := bufio.NewScanner(text)
	scanner.Buffer(make([]byte, 0, bufSize), d.maxLineLength)
	scanner.Split(lines.split)

	state := scanState{}
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Text()

		// A byte order mark switches to a decoder that substitutes U+FFFD.
		if (d.charset.lossy || sniffer.bom) && strings.ContainsRune(line, utf8.RuneError) {
			return d.undecodable(lineNo, fmt.Errorf("%w: %s decoder substituted U+FFFD", ErrDecode, d.charset.name))
		}
		if mode, ok := d.classify(&state, line, lineNo); ok {
			return mode, nil
		}
		if lines.truncated {
			return ValidationAuto, &ScanError{Op: "read", Line: lineNo, Err: d.lineTooLong()}
		}
	}

	if err := scanner.Err(); err != nil {
		if IsDecodeError(err) {
			return d.undecodable(lineNo+1, err)
		}
		if errors.Is(err, bufio.ErrTooLong) {
			err = d.lineTooLong()
		}
		return ValidationAuto, &ScanError{Op: "read", Line: lineNo + 1, Err: err}
	}

	return ValidationXSD, nil
}

// classify feeds one line to the comment state and reports a decision once
// text outside comments shows a DOCTYPE or an opening tag.
func (d *Detector) classify(state *scanState, line string, lineNo int) (ValidationMode, bool) {
	content, ok := state.consumeCommentTokens(line)
	if state.inComment || !ok || !hasText(content) {
		return ValidationAuto, false
	}
	if hasDoctype(content) {
		d.logger.Debug("found DOCTYPE declaration", zap.Int("line", lineNo))
		return ValidationDTD, true
	}
	if hasOpeningTag(content) {
		d.logger.Debug("found opening tag before any DOCTYPE", zap.Int("line", lineNo))
		return ValidationXSD, true
	}
	return ValidationAuto, false
}

func (d *Detector) undecodable(lineNo int, err error) (ValidationMode, error) {
	d.logger.Debug("choked on character encoding, leaving validation mode to the caller",
		zap.String("encoding", d.charset.name),
		zap.Int("line", lineNo),
		zap.Error(err))
	return ValidationAuto, nil
}

func (d *Detector) lineTooLong() error {
	return fmt.Errorf("%w (max %d bytes)", ErrLineTooLong, d.maxLineLength)
}

// lineSplitter adapts scanLines to one scan. Unterminated text at the end
// of the stream is a line only when the stream ended cleanly. A line that
// fills the buffer is handed out cut at maxLength and marked truncated.
type lineSplitter struct {
	text      *textReader
	maxLength int
	truncated bool
}

func (s *lineSplitter) split(data []byte, atEOF bool) (int, []byte, error) {
	advance, token, err := scanLines(data, atEOF)
	if err != nil {
		return advance, token, err
	}
	if atEOF && s.text.err != nil && advance > 0 && len(token) == advance {
		return 0, nil, s.text.err
	}
	if advance > 0 || atEOF || len(data) < s.maxLength {
		return advance, token, nil
	}

	// The buffer is full and holds no terminator.
	if data[len(data)-1] == '\r' {
		return len(data), data[:len(data)-1], nil
	}
	token = trimPartialRune(data)
	if len(token) == 0 {
		return 0, nil, nil
	}
	s.truncated = true
	return len(token), token, nil
}

// trimPartialRune drops a UTF-8 sequence cut off at the end of p.
func trimPartialRune(p []byte) []byte {
	for i := len(p) - 1; i >= 0 && i >= len(p)-utf8.UTFMax; i-- {
		if utf8.RuneStart(p[i]) {
			if !utf8.FullRune(p[i:]) {
				return p[:i]
			}
			break
		}
	}
	return p
}

// scanLines splits on "\n", "\r\n" or a lone "\r", dropping the
// terminator.
func scanLines(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	if i := bytes.IndexAny(data, "\r\n"); i >= 0 {
		if data[i] == '\n' {
			return i + 1, data[:i], nil
		}
		// A '\r' at the end of the buffer may be the first half of "\r\n".
		if i+1 < len(data) {
			if data[i+1] == '\n' {
				return i + 2, data[:i], nil
			}
			return i + 1, data[:i], nil
		}
		if atEOF {
			return i + 1, data[:i], nil
		}
		return 0, nil, nil
	}
	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}
