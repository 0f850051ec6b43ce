package main

import (
	"errors"
	"io"
	"os"

	"golang.org/x/term"
)

var errNoInput = errors.New("no input: pass a file or pipe the request on stdin")

// readInput 读取文件内容；path 为空或 "-" 时读取 stdin，stdin 是终端则报错
func readInput(path string) (string, error) {
	if path != "" && path != "-" {
		data, err := os.ReadFile(path)
		if err != nil {
			return "", err
		}
		return string(data), nil
	}
	if term.IsTerminal(int(os.Stdin.Fd())) {
		return "", errNoInput
	}
	data, err := io.ReadAll(os.Stdin)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
