package seed

import (
	"bytes"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/dmehra2102/Lesson-Booking-System/internal/inventory/domain"
)

type slotFixture struct {
	ID         int64  `yaml:"id"`
	Title      string `yaml:"title"`
	Location   string `yaml:"location"`
	PriceCents int64  `yaml:"priceCents"`
	Image      string `yaml:"image"`
	Capacity   int    `yaml:"capacity"`
	// Available defaults to Capacity when omitted.
	Available *int `yaml:"available"`
}

type fixtureFile struct {
	Slots []slotFixture `yaml:"slots"`
}

func LoadFile(path string) ([]domain.Slot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read seed file: %w", err)
	}
	return Load(bytes.NewReader(data))
}

func Load(r io.Reader) ([]domain.Slot, error) {
	var file fixtureFile

	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&file); err != nil && err != io.EOF {
		return nil, fmt.Errorf("decode seed file: %w", err)
	}

	slots := make([]domain.Slot, 0, len(file.Slots))
	for _, f := range file.Slots {
		available := f.Capacity
		if f.Available != nil {
			available = *f.Available
		}
		slots = append(slots, domain.Slot{
			ID:         f.ID,
			Title:      f.Title,
			Location:   f.Location,
			PriceCents: f.PriceCents,
			Image:      f.Image,
			Capacity:   f.Capacity,
			Available:  available,
		})
	}
	return slots, nil
}
