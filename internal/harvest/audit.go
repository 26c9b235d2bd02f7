package harvest

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	md5hash "github.com/JakeFAU/journal-harvester/internal/hash/md5"
)

// Size thresholds.
const (
	SmallFileBytes = 1024
	BigFileBytes   = 100 << 20
	LargeFileBytes = 1 << 30
)

var articlePDFPattern = regexp.MustCompile(`(?i)^\d+\.pdf$`)

// SizeBand is a coarse judgement of a file's size.
type SizeBand int

const (
	// BandNormal needs no attention.
	BandNormal SizeBand = iota
	// BandEmpty is a zero byte file.
	BandEmpty
	// BandSmall is under 1 KiB and not a checksum sidecar.
	BandSmall
	// BandBig is over 100 MiB.
	BandBig
	// BandLarge is over 1 GiB.
	BandLarge
)

func (b SizeBand) String() string {
	switch b {
	case BandEmpty:
		return "empty"
	case BandSmall:
		return "small"
	case BandBig:
		return "big"
	case BandLarge:
		return "large"
	default:
		return "normal"
	}
}

// ClassifySize bands a file of size bytes named name.
func ClassifySize(name string, size int64) SizeBand {
	switch {
	case size == 0:
		return BandEmpty
	case size < SmallFileBytes && !strings.HasSuffix(name, md5hash.SidecarExt):
		return BandSmall
	case size > LargeFileBytes:
		return BandLarge
	case size > BigFileBytes:
		return BandBig
	default:
		return BandNormal
	}
}

// SizeFinding is one file outside the normal band.
type SizeFinding struct {
	Path string
	Size int64
	Band SizeBand
}

// SizeReport lists suspicious files of a MASTER folder.
type SizeReport struct {
	Checked  int
	Findings []SizeFinding
	// NonFiles are entries of the supplements folder that are not files.
	NonFiles []string
}

// SizeAudit checks the files of masterDir and its supplements folder.
func SizeAudit(masterDir string) (SizeReport, error) {
	var report SizeReport
	if err := auditDir(masterDir, false, &report); err != nil {
		return report, err
	}
	if err := auditDir(filepath.Join(masterDir, SupplementsDir), true, &report); err != nil {
		return report, err
	}
	return report, nil
}

func auditDir(dir string, supplements bool, report *SizeReport) error {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) && supplements {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read %s: %w", dir, err)
	}
	for _, e := range entries {
		full := filepath.Join(dir, e.Name())
		if !e.Type().IsRegular() {
			if supplements {
				report.NonFiles = append(report.NonFiles, full)
			}
			continue
		}
		info, err := e.Info()
		if err != nil {
			return fmt.Errorf("stat %s: %w", full, err)
		}
		report.Checked++
		if band := ClassifySize(e.Name(), info.Size()); band != BandNormal {
			report.Findings = append(report.Findings, SizeFinding{Path: full, Size: info.Size(), Band: band})
		}
	}
	return nil
}

// PDFPresent reports whether masterDir holds an article PDF such as 1234.pdf.
func PDFPresent(masterDir string) (bool, error) {
	entries, err := os.ReadDir(masterDir)
	if err != nil {
		return false, fmt.Errorf("read %s: %w", masterDir, err)
	}
	for _, e := range entries {
		if e.Type().IsRegular() && articlePDFPattern.MatchString(e.Name()) {
			return true, nil
		}
	}
	return false, nil
}
