// Package serialization stores displacement fields, velocity fields and
// matrices in the SafeTensors format.
//
//	Format Structure:
//	  [8 bytes: Header Size (uint64 LE)]
//	  [Header: JSON, tensor name -> {dtype, shape, data_offsets}]
//	  [Tensor data: raw little-endian bytes, tensors in name order]
//
// The optional "__metadata__" header entry holds string key/value pairs. The
// writer adds a SHA-256 checksum of the data section under MetadataChecksum,
// which the reader verifies when present.
//
// Example usage:
//
//	err := serialization.WriteSafeTensors("out.safetensors",
//	    map[string]*tensor.Tensor{"disp": u},
//	    map[string]string{"grid": g.String()},
//	    serialization.F32)
//
//	f, err := serialization.ReadSafeTensors("out.safetensors")
//	u := f.Tensors["disp"]
package serialization
