package main

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/dave/jennifer/jen"

	"github.com/chazu/ijvm/pkg/bytecode"
)

// loadProgram reads path ("-" for stdin) as assembly, hex text, an IJBC
// container or raw bytecode, in that order of precedence.
func loadProgram(path string, asm, hexText bool) (*bytecode.Program, error) {
	var (
		data []byte
		err  error
		name string
	)
	if path == "-" {
		data, err = io.ReadAll(os.Stdin)
		name = "stdin"
	} else {
		data, err = os.ReadFile(path)
		name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	if err != nil {
		return nil, err
	}

	switch {
	case asm || strings.EqualFold(filepath.Ext(path), ".jasm"):
		return bytecode.AssembleProgram(name, string(data))
	case hexText:
		code, err := decodeHex(string(data))
		if err != nil {
			return nil, err
		}
		return bytecode.LoadNamed(name, code)
	case bytes.HasPrefix(data, bytecode.BytecodeMagic):
		return bytecode.Deserialize(data)
	}
	return bytecode.LoadNamed(name, data)
}

// decodeHex accepts hex digits separated by any whitespace.
func decodeHex(text string) ([]byte, error) {
	code, err := hex.DecodeString(strings.Join(strings.Fields(text), ""))
	if err != nil {
		return nil, fmt.Errorf("invalid hex input: %w", err)
	}
	return code, nil
}

func writeOutput(path string, data []byte) error {
	if path == "" {
		_, err := os.Stdout.Write(data)
		return err
	}
	return os.WriteFile(path, data, 0644)
}

func renderOutput(path string, f *jen.File) error {
	var buf bytes.Buffer
	if err := f.Render(&buf); err != nil {
		return err
	}
	return writeOutput(path, buf.Bytes())
}
