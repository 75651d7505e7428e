package sandbox

import (
	"encoding/base64"
	"os"
	"path/filepath"

	"github.com/campusgrid/campusgrid/internal/obslog"
	"github.com/campusgrid/campusgrid/internal/types"
)

// collectOutputFiles sweeps a single directory (container mode's mounted
// /output) for regular files, base64-encoding each that fits within
// MaxOutputFileBytes.
func collectOutputFiles(dir string) ([]types.OutputFile, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var files []types.OutputFile
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		f, ok, err := readOutputFile(filepath.Join(dir, entry.Name()), entry.Name())
		if err != nil {
			return nil, err
		}
		if ok {
			files = append(files, f)
		}
	}
	return files, nil
}

// collectWorkAndOutputFiles sweeps both the dedicated output directory and
// the working directory (restricted mode), excluding the job script itself
// and the output-dir entry so the job's own source isn't reported back as
// an artifact.
func collectWorkAndOutputFiles(workDir, outputDir, scriptPath string) ([]types.OutputFile, error) {
	files, err := collectOutputFiles(outputDir)
	if err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(workDir)
	if err != nil {
		if os.IsNotExist(err) {
			return files, nil
		}
		return nil, err
	}

	outputDirAbs, _ := filepath.Abs(outputDir)
	scriptAbs, _ := filepath.Abs(scriptPath)

	for _, entry := range entries {
		path := filepath.Join(workDir, entry.Name())
		abs, _ := filepath.Abs(path)
		if abs == scriptAbs || abs == outputDirAbs {
			continue
		}
		if entry.IsDir() {
			continue
		}
		if entry.Name() == "requirements.txt" {
			continue
		}
		f, ok, err := readOutputFile(path, entry.Name())
		if err != nil {
			return nil, err
		}
		if ok {
			files = append(files, f)
		}
	}

	return files, nil
}

// readOutputFile reads a single candidate artifact, silently skipping it
// (ok=false, no error) when it exceeds MaxOutputFileBytes.
func readOutputFile(path, filename string) (types.OutputFile, bool, error) {
	info, err := os.Stat(path)
	if err != nil {
		return types.OutputFile{}, false, err
	}
	if info.Size() > MaxOutputFileBytes {
		log := obslog.Component("sandbox")
		log.Warn().
			Str("filename", filename).
			Int64("size", info.Size()).
			Msg("output file exceeds size limit, skipping")
		return types.OutputFile{}, false, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return types.OutputFile{}, false, err
	}

	return types.OutputFile{
		Filename:      filename,
		Size:          info.Size(),
		ContentBase64: base64.StdEncoding.EncodeToString(data),
	}, true, nil
}
