package swapwire

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"

	"github.com/lightninglabs/coinswap/swap"
)

// writeElement serializes a single element of a type swapwire messages are
// built from, in the style of lnwire's readElement/writeElement pair.
func writeElement(w io.Writer, element interface{}) error {
	switch e := element.(type) {
	case uint8:
		return binary.Write(w, binary.BigEndian, e)
	case uint16:
		return binary.Write(w, binary.BigEndian, e)
	case uint32:
		return binary.Write(w, binary.BigEndian, e)
	case uint64:
		return binary.Write(w, binary.BigEndian, e)
	case btcutil.Amount:
		return binary.Write(w, binary.BigEndian, int64(e))

	case *btcec.PublicKey:
		if e == nil {
			var zero [33]byte
			_, err := w.Write(zero[:])
			return err
		}
		_, err := w.Write(e.SerializeCompressed())
		return err

	case swap.HashValue:
		_, err := w.Write(e[:])
		return err
	case swap.HashPreimage:
		_, err := w.Write(e[:])
		return err

	case []byte:
		if err := writeElement(w, uint16(len(e))); err != nil {
			return err
		}
		_, err := w.Write(e)
		return err

	case string:
		if err := writeElement(w, uint32(len(e))); err != nil {
			return err
		}
		_, err := io.WriteString(w, e)
		return err

	case swap.MakerAddress:
		if err := writeElement(w, e.Network); err != nil {
			return err
		}
		return writeElement(w, e.Host)

	default:
		return fmt.Errorf("swapwire: unsupported type %T for encoding", e)
	}
}

func writeElements(w io.Writer, elements ...interface{}) error {
	for _, el := range elements {
		if err := writeElement(w, el); err != nil {
			return err
		}
	}
	return nil
}

// readElement deserializes a single element into the target pointed to by
// element, the inverse of writeElement.
func readElement(r io.Reader, element interface{}) error {
	switch e := element.(type) {
	case *uint8:
		return binary.Read(r, binary.BigEndian, e)
	case *uint16:
		return binary.Read(r, binary.BigEndian, e)
	case *uint32:
		return binary.Read(r, binary.BigEndian, e)
	case *uint64:
		return binary.Read(r, binary.BigEndian, e)
	case *btcutil.Amount:
		var raw int64
		if err := binary.Read(r, binary.BigEndian, &raw); err != nil {
			return err
		}
		*e = btcutil.Amount(raw)
		return nil

	case **btcec.PublicKey:
		var buf [33]byte
		if _, err := io.ReadFull(r, buf[:]); err != nil {
			return err
		}
		allZero := true
		for _, b := range buf {
			if b != 0 {
				allZero = false
				break
			}
		}
		if allZero {
			*e = nil
			return nil
		}
		pub, err := btcec.ParsePubKey(buf[:])
		if err != nil {
			return err
		}
		*e = pub
		return nil

	case *swap.HashValue:
		_, err := io.ReadFull(r, e[:])
		return err
	case *swap.HashPreimage:
		_, err := io.ReadFull(r, e[:])
		return err

	case *[]byte:
		var length uint16
		if err := readElement(r, &length); err != nil {
			return err
		}
		buf := make([]byte, length)
		if _, err := io.ReadFull(r, buf); err != nil {
			return err
		}
		*e = buf
		return nil

	case *string:
		var length uint32
		if err := readElement(r, &length); err != nil {
			return err
		}
		buf := make([]byte, length)
		if _, err := io.ReadFull(r, buf); err != nil {
			return err
		}
		*e = string(buf)
		return nil

	case *swap.MakerAddress:
		if err := readElement(r, &e.Network); err != nil {
			return err
		}
		return readElement(r, &e.Host)

	default:
		return fmt.Errorf("swapwire: unsupported type %T for decoding", e)
	}
}

func readElements(r io.Reader, elements ...interface{}) error {
	for _, el := range elements {
		if err := readElement(r, el); err != nil {
			return err
		}
	}
	return nil
}
