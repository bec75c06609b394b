// ABOUTME: CLI for building, inspecting, compacting and exporting heap files
// ABOUTME: Subcommands: create, demo, info, gc, json

package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/smolworld/smolheap/heap"
	"github.com/smolworld/smolheap/heapfile"
	"github.com/smolworld/smolheap/heapio"
)

func usage() {
	fmt.Fprintf(os.Stderr, `usage: smolheap <command> [flags] <file>

commands:
  create -capacity N <file>   create an empty heap file
  demo <file>                 create a heap file with sample data
  info <file>                 print heap statistics and blocks
  gc <file>                   compact the heap file in place
  json <file>                 print the heap's object graph as JSON
`)
	os.Exit(2)
}

func main() {
	log.SetFlags(0)
	log.SetPrefix("smolheap: ")
	if len(os.Args) < 2 {
		usage()
	}

	cmd, args := os.Args[1], os.Args[2:]
	var err error
	switch cmd {
	case "create":
		err = runCreate(args)
	case "demo":
		err = runDemo(args)
	case "info":
		err = runInfo(args)
	case "gc":
		err = runGC(args)
	case "json":
		err = runJSON(args)
	default:
		usage()
	}
	if err != nil {
		log.Fatal(err)
	}
}

func runCreate(args []string) error {
	fs := flag.NewFlagSet("create", flag.ExitOnError)
	capacity := fs.Int("capacity", 64*1024, "heap capacity in bytes")
	fs.Parse(args)
	if fs.NArg() != 1 {
		usage()
	}
	hf, err := heapfile.Create(fs.Arg(0), *capacity)
	if err != nil {
		return err
	}
	return hf.Close()
}

// runDemo builds a small object graph: a dict root holding strings, an
// array, numbers and a shared value.
func runDemo(args []string) error {
	fs := flag.NewFlagSet("demo", flag.ExitOnError)
	capacity := fs.Int("capacity", 64*1024, "heap capacity in bytes")
	fs.Parse(args)
	if fs.NArg() != 1 {
		usage()
	}
	hf, err := heapfile.Create(fs.Arg(0), *capacity)
	if err != nil {
		return err
	}
	defer hf.Close()
	h := hf.Heap

	greeting, err := heap.NewString(h, "Cowabunga!")
	if err != nil {
		return err
	}
	numbers, err := heap.NewArrayOf(h, heap.IntVal(1234), heap.IntVal(-4567),
		greeting.Val(), greeting.Val())
	if err != nil {
		return err
	}
	root, err := heap.NewDict(h, 4)
	if err != nil {
		return err
	}
	for name, val := range map[string]heap.Val{
		"greeting": greeting.Val(),
		"numbers":  numbers.Val(),
		"answer":   heap.IntVal(42),
		"ready":    heap.True,
	} {
		sym, err := h.Symbols().Intern(name)
		if err != nil {
			return err
		}
		root.Set(sym.Val(), val)
	}
	h.SetRoot(root.Val())
	return nil
}

func runInfo(args []string) error {
	if len(args) != 1 {
		usage()
	}
	hf, err := heapfile.Open(args[0], 0)
	if err != nil {
		return err
	}
	defer hf.Close()
	h := hf.Heap

	fmt.Printf("capacity  %d\n", h.Capacity())
	fmt.Printf("used      %d\n", h.Used())
	fmt.Printf("root      %s\n", describeVal(h, h.Root()))
	fmt.Printf("symbols   %d\n", h.Symbols().Len())

	reachable := make(map[heap.Pos]bool)
	h.Visit(func(b heap.Block) bool {
		reachable[b.Pos()] = true
		return true
	})

	fmt.Println("blocks:")
	h.VisitAll(func(b heap.Block) bool {
		mark := " "
		if reachable[b.Pos()] {
			mark = "*"
		}
		fmt.Printf("  %s %8d  %-7s %d bytes\n", mark, b.Pos(), b.Type(), b.DataSize())
		return true
	})
	return nil
}

func runGC(args []string) error {
	if len(args) != 1 {
		usage()
	}
	raw, err := os.ReadFile(args[0])
	if err != nil {
		return err
	}
	h, err := heap.Adopt(raw, len(raw))
	if err != nil {
		return err
	}
	before := h.Used()
	if err := heap.Collect(h); err != nil {
		return err
	}
	tmp := args[0] + ".gc"
	if err := os.WriteFile(tmp, h.Bytes(), 0o644); err != nil {
		return err
	}
	if err := os.Rename(tmp, args[0]); err != nil {
		return err
	}
	fmt.Printf("%d -> %d bytes\n", before, h.Used())
	return nil
}

func runJSON(args []string) error {
	if len(args) != 1 {
		usage()
	}
	f, err := os.Open(args[0])
	if err != nil {
		return err
	}
	defer f.Close()
	h, err := heapio.Open(f)
	if err != nil {
		return err
	}
	return (&heapio.JSON{}).Encode(os.Stdout, h)
}

func describeVal(h *heap.Heap, v heap.Val) string {
	t := v.Type(h)
	switch t {
	case heap.TypeNull, heap.TypeBool, heap.TypeInt:
		return t.String()
	}
	return fmt.Sprintf("%s at %d", t, v.Pos())
}
