package libvirt

import (
	"testing"

	golibvirt "github.com/digitalocean/go-libvirt"
	"github.com/google/uuid"
)

func param(field string, v any) golibvirt.TypedParam {
	return golibvirt.TypedParam{Field: field, Value: golibvirt.TypedParamValue{I: v}}
}

func TestParseStats(t *testing.T) {
	st := parseStats([]golibvirt.TypedParam{
		param("cpu.time", uint64(5_000_000_000)),
		param("vcpu.current", uint32(4)),
		param("balloon.current", uint64(1024)),
		param("balloon.maximum", uint64(2048)),
		param("block.0.name", "vda"),
		param("block.0.rd.bytes", uint64(100)),
		param("block.1.rd.bytes", uint64(50)),
		param("block.0.wr.bytes", uint64(7)),
		param("net.0.rx.bytes", int64(300)),
		param("net.0.tx.bytes", int64(-1)),
	})

	if st.CPUTimeNs != 5_000_000_000 {
		t.Errorf("CPUTimeNs = %d", st.CPUTimeNs)
	}
	if st.VCPUCount != 4 {
		t.Errorf("VCPUCount = %d, want 4", st.VCPUCount)
	}
	if !st.HasBalloon || st.BalloonCurrent != 1024*1024 || st.BalloonMaximum != 2048*1024 {
		t.Errorf("balloon = %+v", st)
	}
	if st.BlockReadBytes != 150 || st.BlockWriteBytes != 7 {
		t.Errorf("block rd/wr = %d/%d, want 150/7", st.BlockReadBytes, st.BlockWriteBytes)
	}
	if st.NetRxBytes != 300 || st.NetTxBytes != 0 {
		t.Errorf("net rx/tx = %d/%d, want 300/0", st.NetRxBytes, st.NetTxBytes)
	}
}

func TestParseStats_NoBalloon(t *testing.T) {
	st := parseStats([]golibvirt.TypedParam{param("cpu.time", uint64(1))})
	if st.HasBalloon {
		t.Error("HasBalloon = true without balloon fields")
	}
}

func TestDomainUUIDString(t *testing.T) {
	want := uuid.MustParse("6f1c2a8e-4b1d-4c8e-9a55-0d2e7b9f1a10")
	d := &Domain{raw: golibvirt.Domain{Name: "vm1", UUID: golibvirt.UUID(want), ID: 3}}
	if got := d.UUIDString(); got != want.String() {
		t.Errorf("UUIDString() = %q, want %q", got, want.String())
	}
	if d.Name() != "vm1" || d.ID() != 3 {
		t.Errorf("Name/ID = %q/%d", d.Name(), d.ID())
	}
}
