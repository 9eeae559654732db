package patcher

import (
	"io/ioutil"
	"os"
	"runtime"
	"strings"
)

// newline is what "\n" is translated to when writing text files
var newline = func() string {
	if runtime.GOOS == "windows" {
		return "\r\n"
	}
	return "\n"
}()

// ReadText reads a file with universal newline handling: \r\n and \r become \n.
func ReadText(path string) (string, error) {
	data, err := ioutil.ReadFile(path)
	if err != nil {
		return "", err
	}

	content := strings.ReplaceAll(string(data), "\r\n", "\n")
	return strings.ReplaceAll(content, "\r", "\n"), nil
}

// WriteText writes content, translating \n to the platform newline
func WriteText(path, content string, perm os.FileMode) error {
	if newline != "\n" {
		content = strings.ReplaceAll(content, "\n", newline)
	}

	return ioutil.WriteFile(path, []byte(content), perm)
}
