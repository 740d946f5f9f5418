// Package tracks discovers the numbered vocal and ambient WAV files and hands
// them out round-robin.
package tracks

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// MaxTracks is the highest track number looked for in each directory
const MaxTracks = 10

// Library holds the tracks found at scan time
type Library struct {
	mu         sync.Mutex
	vocals     []string
	ambients   []string
	vocalPos   int
	ambientPos int
}

// Scan looks for v01.wav..v10.wav in vocalDir and a01.wav..a10.wav in
// ambientDir. Gaps are skipped and missing directories yield empty lists.
func Scan(vocalDir, ambientDir string) *Library {
	return &Library{
		vocals:   scanDir(vocalDir, "v"),
		ambients: scanDir(ambientDir, "a"),
	}
}

func scanDir(dir, prefix string) []string {
	var found []string
	for i := 1; i <= MaxTracks; i++ {
		path := filepath.Join(dir, fmt.Sprintf("%s%02d.wav", prefix, i))
		if info, err := os.Stat(path); err == nil && info.Mode().IsRegular() {
			found = append(found, path)
		}
	}
	return found
}

// NextVocal returns the next vocal track, or false when there are none
func (l *Library) NextVocal() (string, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return next(l.vocals, &l.vocalPos)
}

// NextAmbient returns the next ambient track, or false when there are none
func (l *Library) NextAmbient() (string, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return next(l.ambients, &l.ambientPos)
}

func next(list []string, pos *int) (string, bool) {
	if len(list) == 0 {
		return "", false
	}
	path := list[*pos]
	*pos = (*pos + 1) % len(list)
	return path, true
}

// Vocals returns the discovered vocal tracks
func (l *Library) Vocals() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.vocals...)
}

// Ambients returns the discovered ambient tracks
func (l *Library) Ambients() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.ambients...)
}
