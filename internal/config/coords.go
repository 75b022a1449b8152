package config

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// CoordsFileName is the electrode coordinate table inside the experiment
// directory: one "x y" line per channel, in channel order.
const CoordsFileName = "electrode_coords.txt"

// Coord is one electrode position on the array, in array units.
type Coord struct {
	X float64
	Y float64
}

// LoadElectrodeCoords reads and validates the coordinate table at path.
// The table must have exactly nChannels rows.
func LoadElectrodeCoords(path string, nChannels int) ([]Coord, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open electrode coords: %w", err)
	}
	defer f.Close()

	coords := make([]Coord, 0, nChannels)
	scanner := bufio.NewScanner(f)
	lineNo := 0

	for scanner.Scan() {
		lineNo++

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		fields := strings.Fields(line)
		if len(fields) != 2 {
			return nil, fmt.Errorf("%w: line %d: %q", ErrMalformedCoordLine, lineNo, line)
		}

		x, err := strconv.ParseFloat(fields[0], 64)
		if err != nil {
			return nil, fmt.Errorf("%w: line %d: %q", ErrMalformedCoordLine, lineNo, line)
		}

		y, err := strconv.ParseFloat(fields[1], 64)
		if err != nil {
			return nil, fmt.Errorf("%w: line %d: %q", ErrMalformedCoordLine, lineNo, line)
		}

		coords = append(coords, Coord{X: x, Y: y})
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read electrode coords: %w", err)
	}

	if len(coords) != nChannels {
		return nil, fmt.Errorf("%w: got %d rows, want %d", ErrCoordCount, len(coords), nChannels)
	}

	return coords, nil
}
