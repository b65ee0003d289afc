package ingest

import (
	"bufio"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/distrobot/herd/internal/models"
)

var sectionHeader = regexp.MustCompile(`^\*\*\*\s*(.*?)\s*\**\s*$`)

// ScanDir walks dir for Robot Framework files and extracts one seed item per
// test case. Suite name is the test file's parent directory.
func ScanDir(dir string) ([]models.SeedItem, error) {
	var items []models.SeedItem

	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(strings.ToLower(d.Name()), ".robot") {
			return nil
		}

		fileItems, err := parseRobotFile(path)
		if err != nil {
			return fmt.Errorf("parse %s: %w", path, err)
		}
		items = append(items, fileItems...)
		return nil
	})
	if err != nil {
		return nil, err
	}

	return items, nil
}

func parseRobotFile(path string) ([]models.SeedItem, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	suite := filepath.Base(filepath.Dir(path))

	var items []models.SeedItem
	inTestCases := false

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()

		if m := sectionHeader.FindStringSubmatch(line); m != nil {
			inTestCases = strings.EqualFold(strings.TrimSpace(m[1]), "Test Cases")
			continue
		}
		if !inTestCases {
			continue
		}

		// Test names start in column one; indented lines are keywords and
		// settings belonging to the current test.
		if line == "" || line[0] == ' ' || line[0] == '\t' || line[0] == '#' {
			continue
		}

		items = append(items, models.SeedItem{
			Name:     strings.TrimSpace(line),
			Suite:    suite,
			Location: path,
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	return items, nil
}
