package main

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"oocoresim"
)

var regNames = map[string]int16{
	"eax": oocoresim.RegEAX,
	"ebx": oocoresim.RegEBX,
	"ecx": oocoresim.RegECX,
	"edx": oocoresim.RegEDX,
	"esi": oocoresim.RegESI,
	"edi": oocoresim.RegEDI,
	"ebp": oocoresim.RegEBP,
	"esp": oocoresim.RegESP,
}

// loadTrace builds the run's feeder from the text trace named by
// system.insn_trace. The format is line-oriented: a "core N" line selects
// which core subsequent instructions script, and each instruction line is
// one of
//
//	alu <dst> [src...]
//	load <dst> <addr> <size>
//	store <src> <addr> <size>
//	branch <target> taken|nottaken
//	trap
//
// with '#' starting a comment.
func loadTrace(knobs oocoresim.Knobs) (*oocoresim.MockFeeder, error) {
	path := knobs.System.InsnTrace
	if path == "" {
		return nil, fmt.Errorf("coresim: system.insn_trace is not set in %s", configPath)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	feed := oocoresim.NewMockFeeder()
	coreID := 0
	lineNo := 0
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		lineNo++
		line := strings.TrimSpace(sc.Text())
		if i := strings.IndexByte(line, '#'); i >= 0 {
			line = strings.TrimSpace(line[:i])
		}
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		if err := applyLine(feed, &coreID, fields, knobs.System.NumCores); err != nil {
			return nil, fmt.Errorf("%s:%d: %w", path, lineNo, err)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return feed, nil
}

func applyLine(feed *oocoresim.MockFeeder, coreID *int, fields []string, numCores int) error {
	switch fields[0] {
	case "core":
		if len(fields) != 2 {
			return fmt.Errorf("core takes one argument")
		}
		id, err := strconv.Atoi(fields[1])
		if err != nil || id < 0 || id >= numCores {
			return fmt.Errorf("bad core id %q", fields[1])
		}
		*coreID = id
	case "alu":
		if len(fields) < 2 {
			return fmt.Errorf("alu needs a destination register")
		}
		regs, err := parseRegs(fields[1:])
		if err != nil {
			return err
		}
		feed.AddALU(*coreID, regs[0], regs[1:]...)
	case "load", "store":
		if len(fields) != 4 {
			return fmt.Errorf("%s needs <reg> <addr> <size>", fields[0])
		}
		reg, ok := regNames[fields[1]]
		if !ok {
			return fmt.Errorf("unknown register %q", fields[1])
		}
		addr, err := strconv.ParseUint(fields[2], 0, 64)
		if err != nil {
			return fmt.Errorf("bad address %q", fields[2])
		}
		size, err := strconv.Atoi(fields[3])
		if err != nil || size < 1 {
			return fmt.Errorf("bad size %q", fields[3])
		}
		if fields[0] == "load" {
			feed.AddLoad(*coreID, reg, addr, size)
		} else {
			feed.AddStore(*coreID, reg, addr, size)
		}
	case "branch":
		if len(fields) != 3 {
			return fmt.Errorf("branch needs <target> taken|nottaken")
		}
		target, err := strconv.ParseUint(fields[1], 0, 64)
		if err != nil {
			return fmt.Errorf("bad target %q", fields[1])
		}
		feed.AddBranch(*coreID, target, fields[2] == "taken")
	case "trap":
		feed.AddTrap(*coreID)
	default:
		return fmt.Errorf("unknown directive %q", fields[0])
	}
	return nil
}

func parseRegs(names []string) ([]int16, error) {
	out := make([]int16, 0, len(names))
	for _, n := range names {
		r, ok := regNames[n]
		if !ok {
			return nil, fmt.Errorf("unknown register %q", n)
		}
		out = append(out, r)
	}
	return out, nil
}
