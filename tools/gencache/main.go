// Command gencache computes the slab size-class table and writes it as Go
// source. It is the go:generate-driven replacement for the source's
// init_slub! macro, which expanded a size list into SLUB_INFO/SLUB arrays
// at compile time; here the same derivation runs once, offline, and its
// result is committed as internal/slab/sizeclasses_gen.go.
package main

import (
	"bytes"
	"flag"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"

	"golang.org/x/tools/imports"
)

const (
	slubMinObj = 16
	slubMaxOrd = 3
	pageSize   = 4096
	minPartial = 8
)

type sizeClass struct {
	size  uint64
	ord   uint16
	nobjs uint16
}

func alignUp(v, align uint64) uint64 { return (v + align - 1) &^ (align - 1) }

func ceilLog2(n uint64) uint16 {
	if n <= 1 {
		return 0
	}
	var k uint16
	for v := uint64(1); v < n; v <<= 1 {
		k++
	}
	return k
}

func classFor(size uint64) sizeClass {
	required := alignUp(size*slubMinObj, pageSize)
	ord := ceilLog2(required / pageSize)
	if ord > slubMaxOrd {
		ord = slubMaxOrd
	}
	nobjs := ((uint64(1) << ord) * pageSize) / size
	return sizeClass{size: size, ord: ord, nobjs: uint16(nobjs)}
}

func readSizes(path string) ([]uint64, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var sizes []uint64
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		n, err := strconv.ParseUint(line, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parsing %q: %w", line, err)
		}
		sizes = append(sizes, n)
	}
	return sizes, nil
}

func render(sizes []uint64) []byte {
	var buf bytes.Buffer
	fmt.Fprintln(&buf, "// Code generated by gencache from sizeclasses.txt; DO NOT EDIT.")
	fmt.Fprintln(&buf)
	fmt.Fprintln(&buf, "package slab")
	fmt.Fprintln(&buf)
	fmt.Fprintln(&buf, "//go:generate go run wcore/tools/gencache -out sizeclasses_gen.go -in sizeclasses.txt")
	fmt.Fprintln(&buf)
	fmt.Fprintln(&buf, "// SizeClass is one entry of the compile-time slab size-class table: the")
	fmt.Fprintln(&buf, "// object size and the compound shape (Ord, NObjs) a MemCache for that size")
	fmt.Fprintln(&buf, "// draws from the buddy, precomputed the way the source's init_slub! macro")
	fmt.Fprintln(&buf, "// expands SLUB_INFO/SLUB at compile time.")
	fmt.Fprintln(&buf, "type SizeClass struct {")
	fmt.Fprintln(&buf, "\tSize       uint64")
	fmt.Fprintln(&buf, "\tOrd        uint16")
	fmt.Fprintln(&buf, "\tNObjs      uint16")
	fmt.Fprintln(&buf, "\tMinPartial int")
	fmt.Fprintln(&buf, "}")
	fmt.Fprintln(&buf)
	fmt.Fprintln(&buf, "// SizeClasses lists every class Allocator serves from a dedicated")
	fmt.Fprintln(&buf, "// MemCache, ascending by Size. Requests larger than the last entry bypass")
	fmt.Fprintln(&buf, "// the slab and go straight to the buddy.")
	fmt.Fprintln(&buf, "var SizeClasses = []SizeClass{")
	for _, sz := range sizes {
		c := classFor(sz)
		fmt.Fprintf(&buf, "\t{Size: %d, Ord: %d, NObjs: %d, MinPartial: %d},\n", c.size, c.ord, c.nobjs, minPartial)
	}
	fmt.Fprintln(&buf, "}")
	return buf.Bytes()
}

func main() {
	in := flag.String("in", "sizeclasses.txt", "newline-separated list of object sizes")
	out := flag.String("out", "sizeclasses_gen.go", "output Go source path")
	flag.Parse()

	sizes, err := readSizes(*in)
	if err != nil {
		log.Fatalf("gencache: %v", err)
	}

	src := render(sizes)
	formatted, err := imports.Process(*out, src, nil)
	if err != nil {
		log.Fatalf("gencache: formatting %s: %v", *out, err)
	}

	if err := os.WriteFile(*out, formatted, 0o644); err != nil {
		log.Fatalf("gencache: writing %s: %v", *out, err)
	}
}
