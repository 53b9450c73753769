// Package descriptor loads and validates deployment descriptors: the
// structured documents describing one deployable unit (image, ports,
// resources, secret references, replica count).
package descriptor

// Config is the root of a descriptor document.
type Config struct {
	Deployment Deployment `yaml:"deployment"`
}

// Deployment describes one deployable unit.
type Deployment struct {
	Name      string            `yaml:"name"`
	Image     string            `yaml:"image"`
	Replicas  *int              `yaml:"replicas,omitempty"`
	Ports     []Port            `yaml:"ports,omitempty"`
	Env       map[string]string `yaml:"env,omitempty"`
	Resources Resources         `yaml:"resources,omitempty"`
	Secrets   []string          `yaml:"secrets,omitempty"`
}

// Port exposes one container port, optionally named.
type Port struct {
	Name string `yaml:"name,omitempty"`
	Port int    `yaml:"port"`
}

// Resources holds requested and maximum resource quantities.
type Resources struct {
	Requests ResourceList `yaml:"requests,omitempty"`
	Limits   ResourceList `yaml:"limits,omitempty"`
}

// ResourceList names quantities per resource. Empty strings mean unset.
type ResourceList struct {
	CPU    string `yaml:"cpu,omitempty"`
	Memory string `yaml:"memory,omitempty"`
}
