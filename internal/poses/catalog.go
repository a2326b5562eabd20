// Package poses loads the reference pose catalog used for set_target_pose.
package poses

import (
	_ "embed"
	"fmt"
	"os"
	"slices"

	"gopkg.in/yaml.v3"

	apperrors "github.com/GriffinCanCode/posecoach/platform/internal/errors"
	"github.com/GriffinCanCode/posecoach/platform/internal/protocol"
)

//go:embed poses.yaml
var defaultCatalog []byte

// Category controls which landmarks must be visible before a pose frame is
// worth sending.
type Category string

// Pose categories.
const (
	FullBody Category = "full-body"
	HalfBody Category = "half-body"
	Portrait Category = "portrait"
)

// Structure describes the target placement of each body region.
type Structure struct {
	Head  string `yaml:"head" json:"head"`
	Hands string `yaml:"hands" json:"hands"`
	Feet  string `yaml:"feet" json:"feet"`
}

// Step is one sequential coaching instruction.
type Step struct {
	Instruction string `yaml:"instruction" json:"instruction"`
	Check       string `yaml:"check,omitempty" json:"check,omitempty"`
}

// Pose is one catalog entry.
type Pose struct {
	ID          string    `yaml:"id" json:"id"`
	Title       string    `yaml:"title" json:"title"`
	Description string    `yaml:"description" json:"description"`
	Category    Category  `yaml:"category" json:"category"`
	Structure   Structure `yaml:"structure" json:"structure"`
	Tips        []string  `yaml:"tips,omitempty" json:"tips"`
	Steps       []Step    `yaml:"steps,omitempty" json:"steps,omitempty"`
}

// TargetPose converts the pose to the set_target_pose payload.
func (p Pose) TargetPose() protocol.TargetPose {
	tips := slices.Clone(p.Tips)
	if tips == nil {
		tips = []string{}
	}
	return protocol.TargetPose{
		ID:          p.ID,
		Name:        p.Title,
		Description: p.Description,
		Head:        p.Structure.Head,
		Hands:       p.Structure.Hands,
		Feet:        p.Structure.Feet,
		Tips:        tips,
	}
}

// NeedsFeet reports whether pose frames require visible ankles.
func (p Pose) NeedsFeet() bool { return p.Category == FullBody }

// CoachingSteps returns the explicit steps, or steps derived from the
// structure when none are defined: feet, shoulders, hands, head.
func (p Pose) CoachingSteps() []Step {
	if len(p.Steps) > 0 {
		return slices.Clone(p.Steps)
	}
	var steps []Step
	if p.Structure.Feet != "" {
		steps = append(steps, Step{Instruction: p.Structure.Feet, Check: "feet_position"})
	}
	steps = append(steps, Step{
		Instruction: "Shoulders, pull them down away from your ears, then back to open your chest",
		Check:       "shoulders_level",
	})
	if p.Structure.Hands != "" {
		steps = append(steps, Step{Instruction: p.Structure.Hands, Check: "hands_position"})
	}
	if p.Structure.Head != "" {
		steps = append(steps, Step{Instruction: p.Structure.Head, Check: "head_position"})
	}
	return steps
}

type file struct {
	Poses []Pose `yaml:"poses"`
}

// Catalog is an immutable, ordered pose set.
type Catalog struct {
	poses []Pose
	byID  map[string]int
}

// Parse decodes and validates a YAML catalog.
func Parse(data []byte) (*Catalog, error) {
	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ConfigInvalid, "parse pose catalog")
	}
	c := &Catalog{byID: make(map[string]int, len(f.Poses))}
	for i, p := range f.Poses {
		if err := validate(p); err != nil {
			return nil, apperrors.Wrapf(err, apperrors.ConfigInvalid, "pose %d", i)
		}
		if _, dup := c.byID[p.ID]; dup {
			return nil, apperrors.Newf(apperrors.ConfigInvalid, "duplicate pose id %q", p.ID)
		}
		if p.Category == "" {
			p.Category = FullBody
		}
		c.byID[p.ID] = len(c.poses)
		c.poses = append(c.poses, p)
	}
	return c, nil
}

func validate(p Pose) error {
	if p.ID == "" {
		return fmt.Errorf("id is required")
	}
	if p.Title == "" {
		return fmt.Errorf("title is required for %q", p.ID)
	}
	switch p.Category {
	case "", FullBody, HalfBody, Portrait:
	default:
		return fmt.Errorf("category %q not supported for %q", p.Category, p.ID)
	}
	return nil
}

// Load reads a catalog from path. An empty path loads the built-in catalog.
func Load(path string) (*Catalog, error) {
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ConfigInvalid, "read pose catalog").WithMetadata("path", path)
	}
	return Parse(data)
}

// Default returns the built-in catalog.
func Default() *Catalog {
	c, err := Parse(defaultCatalog)
	if err != nil {
		panic(fmt.Sprintf("built-in pose catalog: %v", err))
	}
	return c
}

// Get looks a pose up by id.
func (c *Catalog) Get(id string) (Pose, bool) {
	i, ok := c.byID[id]
	if !ok {
		return Pose{}, false
	}
	return c.poses[i], true
}

// List returns all poses in file order.
func (c *Catalog) List() []Pose {
	return slices.Clone(c.poses)
}

// Len returns the number of poses.
func (c *Catalog) Len() int { return len(c.poses) }
