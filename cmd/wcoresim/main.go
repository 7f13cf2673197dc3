// Command wcoresim is a hosted simulator for the kernel's memory-management
// core: it stands in for the Sv39 boot path by carving a Go-allocated
// buffer up as "physical RAM", running the same memblock -> buddy -> slab
// -> pagetable sequence the real hart-0 boot would, and then drops into a
// REPL so the allocator and page table state can be inspected by hand,
// the way elsie's cmd/elsie drives a machine directly instead of through a
// test.
package main

import (
	"bufio"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"unsafe"

	"golang.org/x/term"

	"wcore/internal/addr"
	"wcore/internal/buddy"
	"wcore/internal/klog"
	"wcore/internal/memblock"
	"wcore/internal/numfmt"
	"wcore/internal/page"
	"wcore/internal/pagetable"
	"wcore/internal/profile"
	"wcore/internal/sbi"
	"wcore/internal/slab"
)

const (
	simMemoryBase    = addr.PhysAddr(0x8000_0000)
	simMemorySize    = 0x0800_0000 // 128 MiB of simulated RAM
	simKernelReserve = 0x0020_0000 // 2 MiB held back for kernel text/data
)

func main() {
	ram := make([]byte, simMemorySize)
	// Point KBASE at ram so PhysAddr<->VirtAddr round-trips land inside a
	// buffer the Go runtime actually owns, the same trick the package
	// test suites use to host Sv39 address math without real hardware.
	addr.SetKBase(addr.VirtAddr(uintptr(unsafe.Pointer(&ram[0]))) - addr.VirtAddr(uint64(simMemoryBase)))

	provider := sbi.NewHosted(os.Stdout)
	logger := klog.NewLogger(provider)

	var mb memblock.MemBlock
	mb.Add(simMemoryBase, simMemorySize)
	mb.Reserve(simMemoryBase, simKernelReserve)

	regions := mb.MemoryRegions()
	if len(regions) == 0 {
		logger.Error("no usable memory left after reservation")
		os.Exit(1)
	}

	var totalFrames uint64
	for _, r := range regions {
		totalFrames += r.Size / addr.PageSize
	}

	var sample page.Page
	metaSize := totalFrames * uint64(unsafe.Sizeof(sample))
	metaBase := mb.Alloc(metaSize, 8)

	var pages page.Pages
	used := uint64(0)
	pages.Init(regions[0].Base.PageFrame(), totalFrames, func(nbytes uint64) addr.PhysAddr {
		pa := metaBase.Add(used)
		used += nbytes
		return pa
	})

	b := buddy.New()
	for _, r := range regions {
		b.AddFreeMemory(0, r.Base.PageFrame(), r.End().PageFrame())
	}

	allocator := slab.NewAllocator(b, &pages)
	pt := pagetable.New(0, b)

	logger.Info("wcoresim ready",
		"memory", numfmt.Bytes(simMemorySize),
		"frames", totalFrames,
		"reserved", numfmt.Bytes(simKernelReserve),
	)

	repl(logger, b, allocator, pt)
}

func repl(logger *slog.Logger, b *buddy.Buddy, allocator *slab.Allocator, pt *pagetable.PageTable) {
	fd := int(os.Stdin.Fd())
	interactive := term.IsTerminal(fd)
	width := 80
	if interactive {
		if w, _, err := term.GetSize(fd); err == nil && w > 0 {
			width = w
		}
	}

	scanner := bufio.NewScanner(os.Stdin)
	for {
		if interactive {
			fmt.Fprint(os.Stdout, "wcoresim> ")
		}
		if !scanner.Scan() {
			return
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		switch fields[0] {
		case "quit", "exit":
			return
		case "help":
			printHelp()
		case "stats":
			printStats(b, width)
		case "profile":
			if err := profile.Write(os.Stdout, b.Snapshot(0)); err != nil {
				logger.Error("profile write failed", "err", err)
			}
		case "alloc":
			runAlloc(allocator, fields)
		case "free":
			runFree(allocator, fields)
		case "map":
			runMap(b, pt, fields)
		case "dump":
			fmt.Fprint(os.Stdout, pt.String())
		case "satp":
			fmt.Fprintf(os.Stdout, "%#016x\n", pt.AsSATP())
		default:
			fmt.Fprintf(os.Stdout, "unknown command %q, try help\n", fields[0])
		}
	}
}

func printHelp() {
	fmt.Fprint(os.Stdout, `commands:
  stats               buddy free-list snapshot
  profile             pprof-format dump of the buddy snapshot
  alloc <size>        allocate size bytes from the slab allocator
  free <addr>         free a previous alloc's address (hex or decimal)
  map <pa> <va> <size> <rwx>   install a Sv39 mapping
  dump                print the root page table's tree
  satp                print the root page table's SATP encoding
  quit                exit
`)
}

func printStats(b *buddy.Buddy, width int) {
	snap := b.Snapshot(0)
	fmt.Fprintln(os.Stdout, strings.Repeat("-", width))
	for _, o := range snap.Orders {
		fmt.Fprintf(os.Stdout, "order %2d: %4d runs, %s\n", o.Order, o.Runs, numfmt.Bytes(o.Bytes))
	}
	fmt.Fprintf(os.Stdout, "total free: %s\n", numfmt.Bytes(snap.TotalFreeBytes))
}

func runAlloc(allocator *slab.Allocator, fields []string) {
	if len(fields) < 2 {
		fmt.Fprintln(os.Stdout, "usage: alloc <size>")
		return
	}
	n, err := strconv.ParseUint(fields[1], 0, 64)
	if err != nil {
		fmt.Fprintln(os.Stdout, err)
		return
	}
	va, ok := allocator.Alloc(0, n)
	if !ok {
		fmt.Fprintln(os.Stdout, "allocation failed")
		return
	}
	fmt.Fprintf(os.Stdout, "allocated %s at %#016x\n", numfmt.Bytes(n), uint64(va))
}

func runFree(allocator *slab.Allocator, fields []string) {
	if len(fields) < 2 {
		fmt.Fprintln(os.Stdout, "usage: free <addr>")
		return
	}
	v, err := strconv.ParseUint(fields[1], 0, 64)
	if err != nil {
		fmt.Fprintln(os.Stdout, err)
		return
	}
	allocator.Free(0, addr.VirtAddr(v))
	fmt.Fprintln(os.Stdout, "freed")
}

func runMap(b *buddy.Buddy, pt *pagetable.PageTable, fields []string) {
	if len(fields) < 5 {
		fmt.Fprintln(os.Stdout, "usage: map <pa> <va> <size> <rwxug>")
		return
	}
	pa, err1 := strconv.ParseUint(fields[1], 0, 64)
	va, err2 := strconv.ParseUint(fields[2], 0, 64)
	sz, err3 := strconv.ParseUint(fields[3], 0, 64)
	if err1 != nil || err2 != nil || err3 != nil {
		fmt.Fprintln(os.Stdout, "bad number")
		return
	}
	flags := parseFlags(fields[4])

	defer func() {
		if r := recover(); r != nil {
			fmt.Fprintf(os.Stdout, "map failed: %v\n", r)
		}
	}()
	pt.Map(0, b, addr.PhysAddr(pa), addr.VirtAddr(va), sz, flags)
	fmt.Fprintln(os.Stdout, "mapped")
}

func parseFlags(s string) pagetable.Flags {
	var f pagetable.Flags
	for _, c := range s {
		switch c {
		case 'r', 'R':
			f |= pagetable.R
		case 'w', 'W':
			f |= pagetable.W
		case 'x', 'X':
			f |= pagetable.X
		case 'u', 'U':
			f |= pagetable.U
		case 'g', 'G':
			f |= pagetable.G
		}
	}
	return f
}
