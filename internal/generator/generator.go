// Package generator turns one source map into its car-specific variants.
//
// Each variant is produced by re-parsing the source bytes, so no state
// leaks between variants and the conversions can run in any order.
package generator

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/tmxbot/envimix/pkg/gbx"
)

// ErrRedundant is returned by Convert when the requested variant would be a
// no-op duplicate of the source map and must be skipped.
var ErrRedundant = errors.New("generator: variant duplicates source map")

// CarSpec pairs a car with the environment its gameplay elements belong to.
// An empty Env means the variant keeps the source environment's elements.
type CarSpec struct {
	Car string
	Env string
}

// DefaultSpecs is the fixed ordered car list of the envimix format.
func DefaultSpecs() []CarSpec {
	return []CarSpec{
		{Car: "CarSport"},
		{Car: "CarSnow", Env: "Snow"},
		{Car: "CarRally", Env: "Rally"},
		{Car: "CarDesert", Env: "Desert"},
	}
}

// environments lists every environment token that can appear inside a
// gameplay block or item identifier.
var environments = []string{"Snow", "Rally", "Desert", "Stadium"}

// Convert produces the variant of the source map for one car spec.
// It returns ErrRedundant when the spec requested an environment remap, no
// gameplay element needed remapping, and the car already matches the map's
// default car.
func Convert(source []byte, spec CarSpec, defaultCar string) (*gbx.MapObject, error) {
	m, err := gbx.Parse(source)
	if err != nil {
		return nil, fmt.Errorf("generator: %w", err)
	}

	sourceCar := m.PlayerModel
	if sourceCar == "" {
		// Maps without a player model implicitly run the default car.
		sourceCar = defaultCar
	}

	remapped := false
	if spec.Env != "" {
		for i, b := range m.Blocks {
			if name, ok := remapGameplayID(b.Name, spec.Env); ok {
				m.Blocks[i].Name = name
				remapped = true
			}
		}
		for i, it := range m.Items {
			if name, ok := remapGameplayID(it.Name, spec.Env); ok {
				m.Items[i].Name = name
				remapped = true
			}
		}
		if !remapped && spec.Car == sourceCar {
			return nil, ErrRedundant
		}
	}

	originalUID := m.UID
	originalAuthor := m.Author

	m.PlayerModel = spec.Car
	m.Name = fmt.Sprintf("%s - %s", m.Name, spec.Car)
	m.UID = newMapUID()

	unset := m.UnsetTime()
	m.AuthorTime = unset
	m.GoldTime = unset
	m.SilverTime = unset
	m.BronzeTime = unset

	// The variant must not ship the source's protection or stale lighting.
	m.Password = ""
	m.Lightmap = nil

	if m.Meta == nil {
		m.Meta = make(map[string]string)
	}
	m.Meta[gbx.MetaConverted] = "true"
	m.Meta[gbx.MetaCar] = spec.Car
	m.Meta[gbx.MetaOriginalUID] = originalUID
	m.Meta[gbx.MetaOriginalAuthor] = originalAuthor

	return m, nil
}

// Generate runs Convert for every spec in order, dropping redundant variants.
func Generate(source []byte, specs []CarSpec, defaultCar string) ([]*gbx.MapObject, error) {
	var variants []*gbx.MapObject
	for _, spec := range specs {
		v, err := Convert(source, spec, defaultCar)
		if errors.Is(err, ErrRedundant) {
			continue
		}
		if err != nil {
			return nil, err
		}
		variants = append(variants, v)
	}
	return variants, nil
}

// remapGameplayID rewrites an environment-specific gameplay identifier to
// the target environment. Non-gameplay identifiers pass through untouched.
func remapGameplayID(name, targetEnv string) (string, bool) {
	if !strings.Contains(name, "Gameplay") {
		return name, false
	}
	for _, env := range environments {
		if env == targetEnv {
			continue
		}
		if strings.Contains(name, env) {
			return strings.ReplaceAll(name, env, targetEnv), true
		}
	}
	return name, false
}

// newMapUID generates a fresh map uid, unique per variant.
func newMapUID() string {
	return "ENVX" + strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", ""))
}
