/*
Package config loads topology files and renders them into service specs.

A topology is YAML, or TOML when the file ends in .toml. Without a file the
embedded default topology is used. Most string fields are text/template
templates evaluated against:

	.Workdir   absolute working directory of the run
	.Project   project name
	.Values    the file's values map, itself rendered first
	.Env       the process environment (missing keys are an error)

and the functions env (missing variables render empty) and default.

Loading validates what is local to the file: names, images, volumes, seed
descriptors and probes. Dependency cycles and unknown dependencies are
reported by the registry.
*/
package config
