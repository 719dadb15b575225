package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/deploymenttheory/go-hdf5arrays/alloc"
	"github.com/deploymenttheory/go-hdf5arrays/block"
	"github.com/deploymenttheory/go-hdf5arrays/cache"
	"github.com/deploymenttheory/go-hdf5arrays/class"
	"github.com/deploymenttheory/go-hdf5arrays/earray"
	"github.com/deploymenttheory/go-hdf5arrays/farray"
	"github.com/deploymenttheory/go-hdf5arrays/file"
	"github.com/deploymenttheory/go-hdf5arrays/internal/config"
)

var (
	inspectFile string
	inspectAddr uint64
	inspectKind string
	inspectFill uint32
)

var inspectCmd = &cobra.Command{
	Use:   "inspect",
	Short: "Open an existing EA or FA header and print its cparam and stats",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		block.VerifyChecksums = cfg.VerifyChecksums

		dev, err := file.OpenOSDevice(inspectFile)
		if err != nil {
			return fmt.Errorf("open %s: %w", inspectFile, err)
		}
		f := file.New(dev, alloc.NewBumpAllocator(0), block.DefaultSizes)
		c := cache.New(f)
		c.SetCapacityHint(cfg.CacheCapacityHint)

		reg := class.NewRegistry()
		const classID class.ID = 1
		if err := reg.Register(class.NewUint32Class(classID, inspectFill)); err != nil {
			return err
		}

		addr := block.Addr(inspectAddr)
		switch inspectKind {
		case "ea":
			hdr, err := earray.Open(f, c, reg, classID, addr)
			if err != nil {
				return fmt.Errorf("open earray: %w", err)
			}
			defer hdr.Close()
			printEAReport(hdr)
		case "fa":
			hdr, err := farray.Open(f, c, reg, classID, addr)
			if err != nil {
				return fmt.Errorf("open farray: %w", err)
			}
			defer hdr.Close()
			printFAReport(hdr)
		default:
			return fmt.Errorf("unknown --kind %q, want ea or fa", inspectKind)
		}
		return nil
	},
}

func printEAReport(hdr *earray.Header) {
	cp := hdr.CParam
	stats := hdr.GetStats()
	fmt.Printf("kind: extensible array\n")
	fmt.Printf("header address: %d\n", hdr.GetAddr())
	fmt.Printf("cparam: raw_elmt_size=%d max_nelmts_bits=%d idx_blk_elmts=%d sup_blk_min_data_ptrs=%d data_blk_min_elmts=%d max_dblk_page_nelmts_bits=%d\n",
		cp.RawElmtSize, cp.MaxNElmtsBits, cp.IdxBlkElmts, cp.SupBlkMinDataPtrs, cp.DataBlkMinElmts, cp.MaxDblkPageNElmtsBits)
	fmt.Printf("max index set: %d\n", hdr.NElmts())
	fmt.Printf("super blocks: %d (%d bytes)\n", stats.NSuperBlocks, stats.SuperBlockSize)
	fmt.Printf("data blocks: %d (%d bytes)\n", stats.NDataBlocks, stats.DataBlockSize)
	fmt.Printf("data block pages: %d (%d bytes)\n", stats.NDataBlockPages, stats.DataBlockPageSize)
}

func printFAReport(hdr *farray.Header) {
	cp := hdr.CParam
	stats := hdr.GetStats()
	fmt.Printf("kind: fixed array\n")
	fmt.Printf("header address: %d\n", hdr.GetAddr())
	fmt.Printf("cparam: raw_elmt_size=%d nelmts=%d max_dblk_page_nelmts_bits=%d\n",
		cp.RawElmtSize, cp.NElmts, cp.MaxDblkPageNElmtsBits)
	fmt.Printf("data block: %d bytes\n", stats.DataBlockSize)
	fmt.Printf("data block pages: %d (%d bytes)\n", stats.NDataBlockPages, stats.DataBlockPageSize)
}

func init() {
	rootCmd.AddCommand(inspectCmd)

	inspectCmd.Flags().StringVar(&inspectFile, "file", "", "path to the file to inspect")
	inspectCmd.Flags().Uint64Var(&inspectAddr, "addr", 0, "header address")
	inspectCmd.Flags().StringVar(&inspectKind, "kind", "ea", "array kind: ea or fa")
	inspectCmd.Flags().Uint32Var(&inspectFill, "fill", 0xffffffff, "uint32 fill value, must match the value used at creation")
	inspectCmd.MarkFlagRequired("file")
}
