package ingest_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/distrobot/herd/internal/ingest"
)

const authSuite = `*** Settings ***
Library    SeleniumLibrary

*** Variables ***
${URL}    https://example.test

*** Test Cases ***
Valid Login
    Open Browser    ${URL}    chrome
    Input Text      username    alice

Invalid Login Shows Error
    Open Browser    ${URL}    chrome
    # inline comment inside a test
    Page Should Contain    Error

*** Keywords ***
Open Login Page
    Open Browser    ${URL}    chrome
`

func TestScanDir(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	suiteDir := filepath.Join(dir, "auth")
	require.NoError(t, os.MkdirAll(suiteDir, 0755))
	robotFile := filepath.Join(suiteDir, "login.robot")
	require.NoError(t, os.WriteFile(robotFile, []byte(authSuite), 0644))
	// Non-robot files are skipped.
	require.NoError(t, os.WriteFile(filepath.Join(suiteDir, "notes.txt"), []byte("x"), 0644))

	items, err := ingest.ScanDir(dir)
	require.NoError(t, err)
	require.Len(t, items, 2)

	require.Equal(t, "Valid Login", items[0].Name)
	require.Equal(t, "auth", items[0].Suite)
	require.Equal(t, robotFile, items[0].Location)

	require.Equal(t, "Invalid Login Shows Error", items[1].Name)
}

func TestScanDir_NoTestCasesSection(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	content := "*** Keywords ***\nSome Keyword\n    Log    hello\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "lib.robot"), []byte(content), 0644))

	items, err := ingest.ScanDir(dir)
	require.NoError(t, err)
	require.Empty(t, items)
}

func TestLoadManifest(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "items.yaml")
	content := `items:
  - name: Valid Login
    suite: auth
    location: tests/auth/login.robot
  - name: Checkout Totals
    suite: cart
    location: tests/cart/checkout.robot
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	items, err := ingest.LoadManifest(path)
	require.NoError(t, err)
	require.Len(t, items, 2)
	require.Equal(t, "Checkout Totals", items[1].Name)
	require.Equal(t, "cart", items[1].Suite)
}

func TestLoadManifest_MissingName(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "items.yaml")
	require.NoError(t, os.WriteFile(path, []byte("items:\n  - suite: auth\n"), 0644))

	_, err := ingest.LoadManifest(path)
	require.Error(t, err)
}
