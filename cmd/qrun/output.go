package main

import (
	"fmt"
	"io"
	"os"

	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/mattn/go-isatty"
)

type noticeKind int

const (
	noticeWarn noticeKind = iota
	noticeError
)

func printNotice(w io.Writer, kind noticeKind, message string) {
	line := "qrun: " + message
	if shouldColorize(w) {
		line = noticeColors(kind).Sprint(line)
	}
	fmt.Fprintln(w, line)
}

func noticeColors(kind noticeKind) text.Colors {
	if kind == noticeError {
		return text.Colors{text.FgRed, text.Bold}
	}
	return text.Colors{text.FgYellow}
}

func shouldColorize(writer io.Writer) bool {
	file, ok := writer.(*os.File)
	if !ok {
		return false
	}
	fd := file.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}
