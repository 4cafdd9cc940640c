// Package config loads the pipeline's ini configuration.
//
// Parsing and typed access are split from the Params record: the File
// and Section types read the raw file with option access tracking, and
// Load validates everything once into an immutable Params. Stages never
// see the raw file.
package config

import (
	"bufio"
	"os"
	"strconv"
	"strings"

	"bend5x/pkg/errors"
)

// File is one parsed configuration file.
type File struct {
	sections map[string]*Section
	order    []string
}

// Section is one [name] block with access tracking. Tracking exists so
// a typo'd option can be reported instead of silently ignored.
type Section struct {
	name     string
	options  map[string]string
	accessed map[string]struct{}
}

// ParseFile reads and parses the file at path.
func ParseFile(path string) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.IOError(err, path)
	}
	defer f.Close()

	c := &File{sections: make(map[string]*Section)}
	scanner := bufio.NewScanner(f)
	num := 0
	current := ""
	for scanner.Scan() {
		num++
		if err := c.parseLine(scanner.Text(), num, &current); err != nil {
			return nil, err.WithPath(path)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.IOError(err, path)
	}
	return c, nil
}

// ParseString parses configuration text.
func ParseString(data string) (*File, error) {
	c := &File{sections: make(map[string]*Section)}
	current := ""
	for num, text := range strings.Split(data, "\n") {
		if err := c.parseLine(text, num+1, &current); err != nil {
			return nil, err
		}
	}
	return c, nil
}

func (c *File) parseLine(text string, num int, current *string) *errors.PipelineError {
	line := strings.TrimSpace(text)
	if idx := strings.IndexAny(line, "#;"); idx >= 0 {
		line = strings.TrimSpace(line[:idx])
	}
	if line == "" {
		return nil
	}

	if strings.HasPrefix(line, "[") && strings.HasSuffix(line, "]") {
		name := strings.TrimSpace(line[1 : len(line)-1])
		if name == "" {
			return errors.New(errors.ErrConfigOption, "empty section header").WithLine(num)
		}
		*current = name
		if _, ok := c.sections[name]; !ok {
			c.sections[name] = &Section{
				name:     name,
				options:  make(map[string]string),
				accessed: make(map[string]struct{}),
			}
			c.order = append(c.order, name)
		}
		return nil
	}

	if *current == "" {
		return errors.New(errors.ErrConfigOption, "option before any section: %q", line).WithLine(num)
	}

	kv := strings.SplitN(line, ":", 2)
	if len(kv) != 2 {
		kv = strings.SplitN(line, "=", 2)
	}
	if len(kv) != 2 {
		return errors.New(errors.ErrConfigOption, "malformed option line: %q", line).WithLine(num)
	}
	key := strings.ToLower(strings.TrimSpace(kv[0]))
	if key == "" {
		return errors.New(errors.ErrConfigOption, "empty option name").WithLine(num)
	}
	c.sections[*current].options[key] = strings.TrimSpace(kv[1])
	return nil
}

// Section returns the named section, creating an empty one if absent so
// callers read defaults through the usual accessors.
func (c *File) Section(name string) *Section {
	if s, ok := c.sections[name]; ok {
		return s
	}
	s := &Section{
		name:     name,
		options:  make(map[string]string),
		accessed: make(map[string]struct{}),
	}
	c.sections[name] = s
	c.order = append(c.order, name)
	return s
}

// HasSection reports whether the named section was present in the file.
func (c *File) HasSection(name string) bool {
	s, ok := c.sections[name]
	return ok && len(s.options) > 0
}

// CheckUnusedOptions returns an error naming every option no accessor
// read. Called after Params construction so typos surface at startup.
func (c *File) CheckUnusedOptions() error {
	var unused []string
	for _, name := range c.order {
		s := c.sections[name]
		for opt := range s.options {
			if _, ok := s.accessed[opt]; !ok {
				unused = append(unused, "["+name+"] "+opt)
			}
		}
	}
	if len(unused) > 0 {
		return errors.New(errors.ErrConfigOption, "unknown options: %s", strings.Join(unused, ", "))
	}
	return nil
}

// Name returns the section name.
func (s *Section) Name() string {
	return s.name
}

// Get returns a string option, or fallback when absent.
func (s *Section) Get(option, fallback string) string {
	key := strings.ToLower(option)
	s.accessed[key] = struct{}{}
	if v, ok := s.options[key]; ok {
		return v
	}
	return fallback
}

// GetFloat returns a float option, or fallback when absent.
func (s *Section) GetFloat(option string, fallback float64) (float64, error) {
	key := strings.ToLower(option)
	s.accessed[key] = struct{}{}
	v, ok := s.options[key]
	if !ok {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, errors.New(errors.ErrConfigOption, "[%s] %s: not a number: %q", s.name, option, v)
	}
	return f, nil
}

// GetInt returns an integer option, or fallback when absent.
func (s *Section) GetInt(option string, fallback int) (int, error) {
	key := strings.ToLower(option)
	s.accessed[key] = struct{}{}
	v, ok := s.options[key]
	if !ok {
		return fallback, nil
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return 0, errors.New(errors.ErrConfigOption, "[%s] %s: not an integer: %q", s.name, option, v)
	}
	return i, nil
}

// GetBool returns a boolean option, or fallback when absent. Accepts
// 1/true/yes/on and 0/false/no/off.
func (s *Section) GetBool(option string, fallback bool) (bool, error) {
	key := strings.ToLower(option)
	s.accessed[key] = struct{}{}
	v, ok := s.options[key]
	if !ok {
		return fallback, nil
	}
	switch strings.ToLower(v) {
	case "1", "true", "yes", "on":
		return true, nil
	case "0", "false", "no", "off":
		return false, nil
	}
	return false, errors.New(errors.ErrConfigOption, "[%s] %s: not a boolean: %q", s.name, option, v)
}
