package pcap_test

import (
	"net"
	"os"
	"testing"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
	"github.com/stretchr/testify/require"

	"github.com/vhftag/tagfinder/internal/record"
	"github.com/vhftag/tagfinder/internal/record/pcap"
)

// writeTestCapture builds a minimal pcap file whose single TCP segment
// carries payload, so Replayer has something real to decode.
func writeTestCapture(t *testing.T, path string, payload []byte) {
	t.Helper()
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	w := pcapgo.NewWriter(f)
	require.NoError(t, w.WriteFileHeader(65536, layers.LinkTypeEthernet))

	eth := layers.Ethernet{
		SrcMAC:       net.HardwareAddr{0, 0, 0, 0, 0, 1},
		DstMAC:       net.HardwareAddr{0, 0, 0, 0, 0, 2},
		EthernetType: layers.EthernetTypeIPv4,
	}
	ip := layers.IPv4{
		Version: 4, IHL: 5, TTL: 64, Protocol: layers.IPProtocolTCP,
		SrcIP: net.IPv4(127, 0, 0, 1), DstIP: net.IPv4(127, 0, 0, 1),
	}
	tcp := layers.TCP{SrcPort: 4000, DstPort: 4001, Seq: 1, Window: 1024}
	require.NoError(t, tcp.SetNetworkLayerForChecksum(&ip))

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{ComputeChecksums: true, FixLengths: true}
	require.NoError(t, gopacket.SerializeLayers(buf, opts, &eth, &ip, &tcp, gopacket.Payload(payload)))

	require.NoError(t, w.WritePacket(gopacket.CaptureInfo{
		Timestamp:     time.Unix(0, 0),
		CaptureLength: len(buf.Bytes()),
		Length:        len(buf.Bytes()),
	}, buf.Bytes()))
}

func TestReplayerDecodesPayload(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/session.pcap"
	writeTestCapture(t, path, []byte("p1,0.0,0.0,-60,-90\n"))

	rp, err := pcap.Open(path)
	require.NoError(t, err)
	defer rp.Close()

	rec, err := rp.Next()
	require.NoError(t, err)
	require.NotNil(t, rec)
	require.Equal(t, record.Pulse, rec.Kind)
}
