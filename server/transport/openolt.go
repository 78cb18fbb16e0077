package transport

import (
	"github.com/pkg/errors"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protodesc"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/types/descriptorpb"
	"google.golang.org/protobuf/types/dynamicpb"
)

// Name of the gRPC service and its methods.
const (
	serviceName             = "openolt.Openolt"
	enableIndicationMethod  = "/openolt.Openolt/EnableIndication"
	onuPacketOutMethod      = "/openolt.Openolt/OnuPacketOut"
	uplinkPacketOutMethod   = "/openolt.Openolt/UplinkPacketOut"
	packetIndicationPonType = "pon"
)

// Descriptors of the openolt messages exchanged with the controller.
var (
	emptyDescriptor            protoreflect.MessageDescriptor
	onuPacketDescriptor        protoreflect.MessageDescriptor
	uplinkPacketDescriptor     protoreflect.MessageDescriptor
	packetIndicationDescriptor protoreflect.MessageDescriptor
	indicationDescriptor       protoreflect.MessageDescriptor
)

func init() {
	file, err := buildOpenoltFile()
	if err != nil {
		panic(err)
	}
	messages := file.Messages()
	emptyDescriptor = messages.ByName("Empty")
	onuPacketDescriptor = messages.ByName("OnuPacket")
	uplinkPacketDescriptor = messages.ByName("UplinkPacket")
	packetIndicationDescriptor = messages.ByName("PacketIndication")
	indicationDescriptor = messages.ByName("Indication")
}

// Creates the scalar field descriptor.
func scalarField(name string, number int32, kind descriptorpb.FieldDescriptorProto_Type) *descriptorpb.FieldDescriptorProto {
	return &descriptorpb.FieldDescriptorProto{
		Name:   proto.String(name),
		Number: proto.Int32(number),
		Label:  descriptorpb.FieldDescriptorProto_LABEL_OPTIONAL.Enum(),
		Type:   kind.Enum(),
	}
}

// Builds the subset of the openolt protocol used by the simulator. The
// field numbers and types follow the openolt definitions so the frames
// interoperate with the real controllers.
func buildOpenoltFile() (protoreflect.FileDescriptor, error) {
	fixed32 := descriptorpb.FieldDescriptorProto_TYPE_FIXED32
	fixed64 := descriptorpb.FieldDescriptorProto_TYPE_FIXED64
	bytesType := descriptorpb.FieldDescriptorProto_TYPE_BYTES
	stringType := descriptorpb.FieldDescriptorProto_TYPE_STRING

	packetIndication := scalarField("pkt_ind", 7, descriptorpb.FieldDescriptorProto_TYPE_MESSAGE)
	packetIndication.TypeName = proto.String(".openolt.PacketIndication")
	packetIndication.OneofIndex = proto.Int32(0)

	file := &descriptorpb.FileDescriptorProto{
		Name:    proto.String("voltha_protos/openolt.proto"),
		Package: proto.String("openolt"),
		Syntax:  proto.String("proto3"),
		MessageType: []*descriptorpb.DescriptorProto{
			{Name: proto.String("Empty")},
			{
				Name: proto.String("OnuPacket"),
				Field: []*descriptorpb.FieldDescriptorProto{
					scalarField("intf_id", 1, fixed32),
					scalarField("onu_id", 2, fixed32),
					scalarField("pkt", 3, bytesType),
					scalarField("port_no", 4, fixed32),
					scalarField("gemport_id", 5, fixed32),
				},
			},
			{
				Name: proto.String("UplinkPacket"),
				Field: []*descriptorpb.FieldDescriptorProto{
					scalarField("intf_id", 1, fixed32),
					scalarField("pkt", 2, bytesType),
				},
			},
			{
				Name: proto.String("PacketIndication"),
				Field: []*descriptorpb.FieldDescriptorProto{
					scalarField("intf_id", 1, fixed32),
					scalarField("gemport_id", 2, fixed32),
					scalarField("flow_id", 3, fixed32),
					scalarField("pkt", 4, bytesType),
					scalarField("intf_type", 5, stringType),
					scalarField("port_no", 6, fixed32),
					scalarField("cookie", 7, fixed64),
					scalarField("onu_id", 8, fixed32),
					scalarField("uni_id", 10, fixed32),
				},
			},
			{
				Name:      proto.String("Indication"),
				Field:     []*descriptorpb.FieldDescriptorProto{packetIndication},
				OneofDecl: []*descriptorpb.OneofDescriptorProto{{Name: proto.String("data")}},
			},
		},
		Service: []*descriptorpb.ServiceDescriptorProto{
			{
				Name: proto.String("Openolt"),
				Method: []*descriptorpb.MethodDescriptorProto{
					{
						Name:            proto.String("EnableIndication"),
						InputType:       proto.String(".openolt.Empty"),
						OutputType:      proto.String(".openolt.Indication"),
						ServerStreaming: proto.Bool(true),
					},
					{
						Name:       proto.String("OnuPacketOut"),
						InputType:  proto.String(".openolt.OnuPacket"),
						OutputType: proto.String(".openolt.Empty"),
					},
					{
						Name:       proto.String("UplinkPacketOut"),
						InputType:  proto.String(".openolt.UplinkPacket"),
						OutputType: proto.String(".openolt.Empty"),
					},
				},
			},
		},
	}
	descriptor, err := protodesc.NewFile(file, nil)
	return descriptor, errors.Wrap(err, "cannot build openolt protocol descriptor")
}

// Returns the field of the message by name.
func field(message protoreflect.Message, name protoreflect.Name) protoreflect.FieldDescriptor {
	return message.Descriptor().Fields().ByName(name)
}

func getUint32(message protoreflect.Message, name protoreflect.Name) uint32 {
	return uint32(message.Get(field(message, name)).Uint())
}

func getBytes(message protoreflect.Message, name protoreflect.Name) []byte {
	return message.Get(field(message, name)).Bytes()
}

func setUint32(message protoreflect.Message, name protoreflect.Name, value uint32) {
	message.Set(field(message, name), protoreflect.ValueOfUint32(value))
}

func setBytes(message protoreflect.Message, name protoreflect.Name, value []byte) {
	message.Set(field(message, name), protoreflect.ValueOfBytes(value))
}

// Frame sent by the controller towards an ONU.
type OnuPacket struct {
	IntfID    uint32
	OnuID     uint32
	PortNo    uint32
	GemportID uint32
	Pkt       []byte
}

func (p *OnuPacket) toMessage() *dynamicpb.Message {
	message := dynamicpb.NewMessage(onuPacketDescriptor)
	setUint32(message, "intf_id", p.IntfID)
	setUint32(message, "onu_id", p.OnuID)
	setUint32(message, "port_no", p.PortNo)
	setUint32(message, "gemport_id", p.GemportID)
	setBytes(message, "pkt", p.Pkt)
	return message
}

func onuPacketFromMessage(message protoreflect.Message) *OnuPacket {
	return &OnuPacket{
		IntfID:    getUint32(message, "intf_id"),
		OnuID:     getUint32(message, "onu_id"),
		PortNo:    getUint32(message, "port_no"),
		GemportID: getUint32(message, "gemport_id"),
		Pkt:       getBytes(message, "pkt"),
	}
}

// Frame sent by the controller towards the network.
type UplinkPacket struct {
	IntfID uint32
	Pkt    []byte
}

func (p *UplinkPacket) toMessage() *dynamicpb.Message {
	message := dynamicpb.NewMessage(uplinkPacketDescriptor)
	setUint32(message, "intf_id", p.IntfID)
	setBytes(message, "pkt", p.Pkt)
	return message
}

func uplinkPacketFromMessage(message protoreflect.Message) *UplinkPacket {
	return &UplinkPacket{
		IntfID: getUint32(message, "intf_id"),
		Pkt:    getBytes(message, "pkt"),
	}
}

// Frame delivered to the controller.
type PacketIndication struct {
	IntfType  string
	IntfID    uint32
	OnuID     uint32
	UniID     uint32
	GemportID uint32
	FlowID    uint32
	PortNo    uint32
	Cookie    uint64
	Pkt       []byte
}

// Wraps the packet indication into the indication message.
func (p *PacketIndication) toIndication() *dynamicpb.Message {
	message := dynamicpb.NewMessage(packetIndicationDescriptor)
	message.Set(field(message, "intf_type"), protoreflect.ValueOfString(p.IntfType))
	setUint32(message, "intf_id", p.IntfID)
	setUint32(message, "onu_id", p.OnuID)
	setUint32(message, "uni_id", p.UniID)
	setUint32(message, "gemport_id", p.GemportID)
	setUint32(message, "flow_id", p.FlowID)
	setUint32(message, "port_no", p.PortNo)
	message.Set(field(message, "cookie"), protoreflect.ValueOfUint64(p.Cookie))
	setBytes(message, "pkt", p.Pkt)

	indication := dynamicpb.NewMessage(indicationDescriptor)
	indication.Set(field(indication, "pkt_ind"), protoreflect.ValueOfMessage(message))
	return indication
}

// Extracts the packet indication from the indication message. It returns
// nil for other indication kinds.
func packetIndicationFromIndication(indication protoreflect.Message) *PacketIndication {
	fd := field(indication, "pkt_ind")
	if !indication.Has(fd) {
		return nil
	}
	message := indication.Get(fd).Message()
	return &PacketIndication{
		IntfType:  message.Get(field(message, "intf_type")).String(),
		IntfID:    getUint32(message, "intf_id"),
		OnuID:     getUint32(message, "onu_id"),
		UniID:     getUint32(message, "uni_id"),
		GemportID: getUint32(message, "gemport_id"),
		FlowID:    getUint32(message, "flow_id"),
		PortNo:    getUint32(message, "port_no"),
		Cookie:    message.Get(field(message, "cookie")).Uint(),
		Pkt:       getBytes(message, "pkt"),
	}
}
