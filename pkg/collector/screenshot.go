package collector

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ethpandaops/reportoor/pkg/result"
)

// CaptureMode selects which attempts get a screenshot.
type CaptureMode string

// Capture modes.
const (
	CaptureFailed CaptureMode = "failed"
	CaptureAll    CaptureMode = "all"
	CaptureNone   CaptureMode = "none"
)

// ErrNoScreenshotCapability is returned for drivers that cannot take
// screenshots.
var ErrNoScreenshotCapability = errors.New("driver has no screenshot method")

// PathScreenshotter is a driver that writes a screenshot to a path
// (playwright style).
type PathScreenshotter interface {
	Screenshot(path string) error
}

// FileScreenshotter is a driver that saves a screenshot to a file name
// (selenium style).
type FileScreenshotter interface {
	SaveScreenshot(filename string) error
}

// ShouldCapture reports whether an attempt with the given status gets a
// screenshot under mode.
func ShouldCapture(mode CaptureMode, status result.Status) bool {
	switch mode {
	case CaptureAll:
		return true
	case CaptureFailed:
		return status == result.StatusFailed
	default:
		return false
	}
}

// CaptureScreenshot stores a screenshot of driver under dir and returns its
// path. The driver's capability is resolved from the interfaces it
// implements; drivers with neither yield ErrNoScreenshotCapability.
func CaptureScreenshot(driver any, dir, testName string) (string, error) {
	if driver == nil {
		return "", ErrNoScreenshotCapability
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("creating screenshot directory: %w", err)
	}

	path := filepath.Join(dir, screenshotName(testName))

	switch d := driver.(type) {
	case PathScreenshotter:
		if err := d.Screenshot(path); err != nil {
			return "", fmt.Errorf("taking screenshot: %w", err)
		}
	case FileScreenshotter:
		if err := d.SaveScreenshot(path); err != nil {
			return "", fmt.Errorf("saving screenshot: %w", err)
		}
	default:
		return "", ErrNoScreenshotCapability
	}

	return path, nil
}

func screenshotName(testName string) string {
	name := strings.NewReplacer("/", "_", "\\", "_").Replace(testName)

	return name + "_failure.png"
}
