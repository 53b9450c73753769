package descriptor

import (
	"fmt"
	"regexp"
	"strings"
)

// ValidationError describes a single invalid field in a descriptor.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

var dnsLabelPattern = regexp.MustCompile(`^[a-z0-9]([-a-z0-9]*[a-z0-9])?$`)

// validDNSLabel reports whether s is a DNS-1123 label.
func validDNSLabel(s string) bool {
	return len(s) <= 63 && dnsLabelPattern.MatchString(s)
}

// ImageRef is a parsed container image reference.
type ImageRef struct {
	Registry   string
	Repository string
	Tag        string
	Digest     string
}

var (
	tagPattern      = regexp.MustCompile(`^[A-Za-z0-9_][A-Za-z0-9._-]{0,127}$`)
	digestPattern   = regexp.MustCompile(`^sha256:[a-f0-9]{64}$`)
	repoSegPattern  = regexp.MustCompile(`^[a-z0-9]+(?:[._-][a-z0-9]+)*$`)
	registryPattern = regexp.MustCompile(`^[a-zA-Z0-9.-]+(?::[0-9]+)?$`)
)

// ParseImageRef parses a reference of the form
// [registry[:port]/]repository[:tag][@sha256:digest].
func ParseImageRef(s string) (*ImageRef, error) {
	if s == "" {
		return nil, fmt.Errorf("image reference is empty")
	}
	ref := &ImageRef{}

	rest := s
	if i := strings.Index(rest, "@"); i >= 0 {
		ref.Digest = rest[i+1:]
		rest = rest[:i]
		if !digestPattern.MatchString(ref.Digest) {
			return nil, fmt.Errorf("invalid digest %q (want sha256:<64 hex chars>)", ref.Digest)
		}
	}

	// A colon after the last slash separates the tag; earlier colons
	// belong to the registry port.
	slash := strings.LastIndex(rest, "/")
	if i := strings.LastIndex(rest, ":"); i > slash {
		ref.Tag = rest[i+1:]
		rest = rest[:i]
		if !tagPattern.MatchString(ref.Tag) {
			return nil, fmt.Errorf("invalid tag %q", ref.Tag)
		}
	}

	// The first segment is a registry host only when it looks like one:
	// contains a dot or port, or is literally "localhost".
	segs := strings.Split(rest, "/")
	if len(segs) > 1 && (strings.ContainsAny(segs[0], ".:") || segs[0] == "localhost") {
		ref.Registry = segs[0]
		segs = segs[1:]
		if !registryPattern.MatchString(ref.Registry) {
			return nil, fmt.Errorf("invalid registry %q", ref.Registry)
		}
	}

	ref.Repository = strings.Join(segs, "/")
	if ref.Repository == "" {
		return nil, fmt.Errorf("image reference %q has no repository", s)
	}
	for _, seg := range segs {
		if !repoSegPattern.MatchString(seg) {
			return nil, fmt.Errorf("invalid repository segment %q", seg)
		}
	}
	return ref, nil
}

// Validate checks the descriptor and returns all problems found.
func Validate(cfg *Config) []ValidationError {
	var errs []ValidationError
	d := &cfg.Deployment

	if d.Name == "" {
		errs = append(errs, ValidationError{
			Field:   "deployment.name",
			Message: "name is required",
		})
	} else if !validDNSLabel(d.Name) {
		errs = append(errs, ValidationError{
			Field:   "deployment.name",
			Message: "must be a lowercase DNS label (max 63 chars)",
		})
	}

	if d.Image == "" {
		errs = append(errs, ValidationError{
			Field:   "deployment.image",
			Message: "image is required",
		})
	} else if _, err := ParseImageRef(d.Image); err != nil {
		errs = append(errs, ValidationError{
			Field:   "deployment.image",
			Message: err.Error(),
		})
	}

	if d.Replicas != nil && *d.Replicas < 0 {
		errs = append(errs, ValidationError{
			Field:   "deployment.replicas",
			Message: "must not be negative",
		})
	}

	seenPortNames := map[string]bool{}
	seenPorts := map[int]bool{}
	for i, p := range d.Ports {
		field := fmt.Sprintf("deployment.ports[%d]", i)
		if p.Port < 1 || p.Port > 65535 {
			errs = append(errs, ValidationError{
				Field:   field + ".port",
				Message: fmt.Sprintf("port %d out of range 1-65535", p.Port),
			})
		} else if seenPorts[p.Port] {
			errs = append(errs, ValidationError{
				Field:   field + ".port",
				Message: fmt.Sprintf("duplicate port %d", p.Port),
			})
		} else {
			seenPorts[p.Port] = true
		}
		if p.Name != "" {
			if !validDNSLabel(p.Name) {
				errs = append(errs, ValidationError{
					Field:   field + ".name",
					Message: "must be a lowercase DNS label",
				})
			} else if seenPortNames[p.Name] {
				errs = append(errs, ValidationError{
					Field:   field + ".name",
					Message: fmt.Sprintf("duplicate port name %q", p.Name),
				})
			} else {
				seenPortNames[p.Name] = true
			}
		}
	}

	errs = append(errs, validateResources(&d.Resources)...)

	seenSecrets := map[string]bool{}
	for i, s := range d.Secrets {
		field := fmt.Sprintf("deployment.secrets[%d]", i)
		// Secrets are reference names resolved by the platform. Anything
		// shaped like KEY=value was pasted in by mistake.
		if strings.ContainsAny(s, "=: \t") {
			errs = append(errs, ValidationError{
				Field:   field,
				Message: "must be a secret reference name, not an inline value",
			})
			continue
		}
		if !validDNSLabel(s) {
			errs = append(errs, ValidationError{
				Field:   field,
				Message: fmt.Sprintf("invalid secret name %q", s),
			})
			continue
		}
		if seenSecrets[s] {
			errs = append(errs, ValidationError{
				Field:   field,
				Message: fmt.Sprintf("duplicate secret %q", s),
			})
		}
		seenSecrets[s] = true
	}

	return errs
}

func validateResources(r *Resources) []ValidationError {
	var errs []ValidationError

	parse := func(field, value string) (Quantity, bool) {
		if value == "" {
			return Quantity{}, false
		}
		q, err := ParseQuantity(value)
		if err != nil {
			errs = append(errs, ValidationError{Field: field, Message: err.Error()})
			return Quantity{}, false
		}
		return q, true
	}

	reqCPU, okReqCPU := parse("deployment.resources.requests.cpu", r.Requests.CPU)
	limCPU, okLimCPU := parse("deployment.resources.limits.cpu", r.Limits.CPU)
	reqMem, okReqMem := parse("deployment.resources.requests.memory", r.Requests.Memory)
	limMem, okLimMem := parse("deployment.resources.limits.memory", r.Limits.Memory)

	if okReqCPU && okLimCPU && reqCPU.Cmp(limCPU) > 0 {
		errs = append(errs, ValidationError{
			Field:   "deployment.resources.requests.cpu",
			Message: fmt.Sprintf("request %s exceeds limit %s", reqCPU, limCPU),
		})
	}
	if okReqMem && okLimMem && reqMem.Cmp(limMem) > 0 {
		errs = append(errs, ValidationError{
			Field:   "deployment.resources.requests.memory",
			Message: fmt.Sprintf("request %s exceeds limit %s", reqMem, limMem),
		})
	}

	return errs
}
