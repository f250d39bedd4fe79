package config

import (
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/pattyshack/gt/parseutil"
)

// A physical DRAM bit known to flip under the given aggressor pattern.
type VictimInfo struct {
	Addr uint64 // virtual address of the victim byte
	Bit  int
	Sign bool // true for '+'

	Aggressors    []uint64
	AggressorInit uint64
}

func (victim *VictimInfo) FrameAddr() uint64 {
	return victim.Addr & PageAddrMask
}

func (victim *VictimInfo) PageOffset() uint64 {
	return victim.Addr & PageOffsetMask
}

// Victims grouped per physical frame.  The outer index identifies the frame;
// frames are ordered by frame address.  The loader supports at most one
// victim per frame, hence the solver consumes whole frames.
type VictimTable struct {
	Frames [][]VictimInfo
}

func (table *VictimTable) Victim(frame int, idx int) *VictimInfo {
	return &table.Frames[frame][idx]
}

func parseHex(field string) (uint64, error) {
	return strconv.ParseUint(strings.TrimPrefix(field, "0x"), 16, 64)
}

// One record per line:
//
//	<virt_hex> <bit_dec> <sign> <aggr_hex[,aggr_hex]*> <aggr_init_hex>
//
// '#' introduces a comment.
func LoadVictimAddresses(path string) (*VictimTable, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	perFrame := map[uint64][]VictimInfo{}
	for lineIdx, line := range strings.Split(string(content), "\n") {
		loc := parseutil.Location{
			FileName: path,
			Line:     lineIdx + 1,
		}

		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		fields := strings.Fields(line)
		if len(fields) != 5 {
			return nil, parseutil.NewLocationError(
				loc,
				"malformed victim record (expected 5 fields, found %d)",
				len(fields))
		}

		addr, err := parseHex(fields[0])
		if err != nil {
			return nil, parseutil.NewLocationError(
				loc,
				"malformed victim address (%s)",
				fields[0])
		}

		bit, err := strconv.Atoi(fields[1])
		if err != nil {
			return nil, parseutil.NewLocationError(
				loc,
				"malformed victim bit (%s)",
				fields[1])
		}

		sign := fields[2][0] != '-'

		aggressors := []uint64{}
		for _, field := range strings.Split(fields[3], ",") {
			aggr, err := parseHex(field)
			if err != nil {
				return nil, parseutil.NewLocationError(
					loc,
					"malformed aggressor address (%s)",
					field)
			}
			aggressors = append(aggressors, aggr)
		}

		init, err := parseHex(fields[4])
		if err != nil {
			return nil, parseutil.NewLocationError(
				loc,
				"malformed aggressor init value (%s)",
				fields[4])
		}

		victim := VictimInfo{
			Addr:          addr,
			Bit:           bit,
			Sign:          sign,
			Aggressors:    aggressors,
			AggressorInit: init,
		}
		perFrame[victim.FrameAddr()] = append(
			perFrame[victim.FrameAddr()],
			victim)
	}

	frameAddrs := make([]uint64, 0, len(perFrame))
	for frameAddr := range perFrame {
		frameAddrs = append(frameAddrs, frameAddr)
	}
	sort.Slice(
		frameAddrs,
		func(i int, j int) bool {
			return frameAddrs[i] < frameAddrs[j]
		})

	table := &VictimTable{}
	for _, frameAddr := range frameAddrs {
		table.Frames = append(table.Frames, perFrame[frameAddr])
	}

	return table, nil
}
