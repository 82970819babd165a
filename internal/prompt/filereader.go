package prompt

import "os"

// OSFileReader reads identity/soul files directly from disk.
type OSFileReader struct{}

func (OSFileReader) ReadFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
