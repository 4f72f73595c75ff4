// Package asm assembles YAML program files into function bytecode.
//
// A program file is one top-level function. Nested functions are listed
// under functions and referenced by name from fclosure:
//
//	file: counter.js
//	name: main
//	vars: [make]
//	functions:
//	  - name: make
//	    vars: [n]
//	    functions:
//	      - name: next
//	        closures: [{name: n, loc: n}]
//	        code: |
//	          get_var_ref n
//	          push_i32 1
//	          add
//	          set_var_ref n
//	          return
//	    code: |
//	      push_i32 0
//	      put_loc n
//	      fclosure next
//	      return
//	code: |
//	  fclosure make
//	  call 0
//	  return
package asm

import (
	"gopkg.in/yaml.v3"
)

// File is the document root of a program file.
type File struct {
	// File names the source for backtraces; the program path by default.
	File     string `yaml:"file"`
	Function `yaml:",inline"`
}

// Function describes one function and its nested functions.
type Function struct {
	Name   string `yaml:"name"`
	Kind   string `yaml:"kind"` // normal, generator or async
	Strict bool   `yaml:"strict"`
	Arrow  bool   `yaml:"arrow"`
	Method bool   `yaml:"method"`

	Args      []string    `yaml:"args"`
	Vars      []string    `yaml:"vars"`
	Closures  []Closure   `yaml:"closures"`
	Functions []*Function `yaml:"functions"`

	// Code is kept as a node so instruction errors carry file positions.
	Code yaml.Node `yaml:"code"`
}

// Closure captures one variable of the enclosing function. Exactly one of
// Loc, Arg and Ref names the captured slot, by name or index.
type Closure struct {
	Name string `yaml:"name"`
	Loc  string `yaml:"loc"`
	Arg  string `yaml:"arg"`
	Ref  string `yaml:"ref"`
}
