package process_blob

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"memlocate/process"
	"memlocate/process/memory_map"

	"github.com/Moonlight-Companies/gologger/coloransi"
	"github.com/Moonlight-Companies/gologger/logger"
)

// SaveStats counts what SaveDump did with each region.
type SaveStats struct {
	Saved       int
	NonReadable int
	TooLarge    int
	ReadErrors  int
}

// SaveDump writes the readable regions of proc below maxRegionSize into dirname in the layout
// Load understands. Regions that fail to read are skipped; a lost process aborts the dump.
func SaveDump(ctx context.Context, proc process.Process, dirname string, maxRegionSize uint) (SaveStats, error) {
	log := logger.NewLogger(coloransi.Color(coloransi.ColorPurple, coloransi.ColorOrange, "dump"))
	var stats SaveStats

	if err := os.MkdirAll(dirname, 0755); err != nil {
		return stats, fmt.Errorf("failed to create directory: %w", err)
	}

	if err := proc.UpdateMemoryMap(); err != nil {
		return stats, fmt.Errorf("failed to update memory map: %w", err)
	}

	mm, err := proc.GetMemoryMap()
	if err != nil {
		return stats, err
	}

	metadata := dumpMetadata{PID: proc.GetPID(), Name: "unknown"}
	if id, err := process.IdentityOf(proc); err == nil {
		metadata.Name = id.Exe
	}
	if img, err := proc.MainImage(); err == nil {
		metadata.Image = img
	} else {
		log.Warn("Main image unknown, chains will not be resolvable offline: ", err)
	}

	if err := writeJSON(filepath.Join(dirname, "metadata.json"), metadata); err != nil {
		return stats, err
	}
	if err := writeJSON(filepath.Join(dirname, "process_memory_map.json"), mm); err != nil {
		return stats, err
	}

	log.Infoln("Saving", len(mm), "regions to", dirname)

	for _, region := range mm {
		if err := ctx.Err(); err != nil {
			return stats, err
		}

		if !region.IsReadable() || region.State != memory_map.StateCommitted {
			stats.NonReadable++
			continue
		}

		if maxRegionSize > 0 && region.Size > maxRegionSize {
			log.Debugln("Skipping large region at", fmt.Sprintf("%x", region.Address), "(size:", region.Size/1024/1024, "MB)")
			stats.TooLarge++
			continue
		}

		data, err := proc.ReadMemory(process.ProcessMemoryAddress(region.Address), process.ProcessMemorySize(region.Size))
		if err != nil {
			if errors.Is(err, process.ErrProcessLost) {
				return stats, err
			}
			log.Debugln("Failed to read memory region at", fmt.Sprintf("%x", region.Address), err)
			stats.ReadErrors++
			continue
		}

		if err := os.WriteFile(blobFileName(dirname, region), data, 0644); err != nil {
			return stats, fmt.Errorf("failed to write memory file for region at %x: %w", region.Address, err)
		}
		stats.Saved++
	}

	log.Infoln("Process dump saved:", stats.Saved, "regions saved,", stats.ReadErrors, "read errors,", stats.TooLarge, "too large")

	return stats, nil
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", filepath.Base(path), err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", filepath.Base(path), err)
	}
	return nil
}
