package environment

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"gopkg.in/ini.v1"
)

// Format is an output format for a composed environment.
type Format string

// Render formats.
const (
	FormatShell  Format = "shell"
	FormatDotenv Format = "dotenv"
)

// ErrUnknownFormat is returned for an unrecognised render format.
var ErrUnknownFormat = errors.New("unknown environment format")

// ParseFormat converts a format name into a Format.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case FormatShell, FormatDotenv:
		return f, nil
	case "env", "ini":
		return FormatDotenv, nil
	case "sh", "":
		return FormatShell, nil
	}
	return "", fmt.Errorf("%w: %s (want shell or dotenv)", ErrUnknownFormat, s)
}

// Render writes env in the given format.
func Render(w io.Writer, env Environment, format Format) error {
	switch format {
	case FormatShell:
		return renderShell(w, env)
	case FormatDotenv:
		return renderDotenv(w, env)
	}
	return fmt.Errorf("%w: %s", ErrUnknownFormat, format)
}

func renderShell(w io.Writer, env Environment) error {
	for _, v := range env.vars {
		if _, err := fmt.Fprintf(w, "export %s=%s\n", v.Name, shellQuote(v.Value)); err != nil {
			return err
		}
	}
	return nil
}

// renderDotenv writes KEY=value lines. Values are never quoted: CMake's
// ";" separator would otherwise be read as an inline comment. Lines are
// written per key; ini's writer pads the delimiter unless the package-wide
// PrettyFormat is off.
func renderDotenv(w io.Writer, env Environment) error {
	f := ini.Empty(ini.LoadOptions{IgnoreInlineComment: true})
	sec := f.Section("")
	for _, v := range env.vars {
		if strings.ContainsAny(v.Value, "\r\n") {
			return fmt.Errorf("adding %s: value spans lines", v.Name)
		}
		if _, err := sec.NewKey(v.Name, v.Value); err != nil {
			return fmt.Errorf("adding %s: %w", v.Name, err)
		}
	}

	for _, k := range sec.Keys() {
		if _, err := fmt.Fprintf(w, "%s=%s\n", k.Name(), k.Value()); err != nil {
			return err
		}
	}
	return nil
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
