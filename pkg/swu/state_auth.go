package swu

import (
	"encoding/binary"
	"errors"
	"fmt"
	"net"

	"github.com/vowifi/ikev2client/pkg/crypto"
	"github.com/vowifi/ikev2client/pkg/eap"
	"github.com/vowifi/ikev2client/pkg/eapaka"
	"github.com/vowifi/ikev2client/pkg/ikev2"
	"github.com/vowifi/ikev2client/pkg/ipsec"
	"github.com/vowifi/ikev2client/pkg/logger"
	"github.com/vowifi/ikev2client/pkg/sim"
)

func (s *Session) sendIKEAuthInit() error {
	payloads, err := s.buildIKEAuthInitPayloads()
	if err != nil {
		return err
	}

	data, err := s.encryptAndWrap(payloads, ikev2.IKE_AUTH, false)
	if err != nil {
		return err
	}

	return s.socket.SendIKE(data)
}

func (s *Session) buildIKEAuthInitPayloads() ([]ikev2.Payload, error) {
	// 载荷: IDi, IDr, CP, SA, TSi, TSr, N(EAP_ONLY)，以及按条件追加的通知/设备标识载荷

	// 1. IDi
	imsi, err := s.cfg.SIM.GetIMSI()
	if err != nil {
		return nil, err
	}
	nai := buildNAI(imsi, s.cfg)
	idPayload := &ikev2.EncryptedPayloadID{
		IDType:      ikev2.ID_RFC822_ADDR,
		IDData:      []byte(nai),
		IsInitiator: true,
	}
	idrPayload := &ikev2.EncryptedPayloadID{
		IDType:      ikev2.ID_FQDN,
		IDData:      []byte(s.cfg.APN),
		IsInitiator: false,
	}

	// 1b. CP (CFG_REQUEST)
	ipv6Req := make([]byte, net.IPv6len+1)
	ipv6Req[net.IPv6len] = 64
	cpPayload := &ikev2.EncryptedPayloadCP{
		CFGType: ikev2.CFG_REQUEST,
		Attributes: []*ikev2.CPAttribute{
			{Type: ikev2.INTERNAL_IP4_ADDRESS},
			{Type: ikev2.INTERNAL_IP4_DNS},
			{Type: ikev2.P_CSCF_IP4_ADDRESS},
			{Type: ikev2.INTERNAL_IP6_ADDRESS, Value: ipv6Req},
			{Type: ikev2.INTERNAL_IP6_DNS},
			{Type: ikev2.P_CSCF_IP6_ADDRESS},
			{Type: ikev2.ASSIGNED_PCSCF_IP6_ADDRESS},
		},
	}

	// 2. SA (Child SA)
	var spiBytes []byte
	if s.childSPI == 0 {
		var err error
		spiBytes, err = crypto.RandomBytes(4)
		if err != nil {
			return nil, err
		}
		s.childSPI = binary.BigEndian.Uint32(spiBytes)
	} else {
		spiBytes = make([]byte, 4)
		binary.BigEndian.PutUint32(spiBytes, s.childSPI)
	}

	propCBC := ikev2.NewProposal(1, ikev2.ProtoESP, spiBytes)
	propCBC.AddTransformWithKeyLen(ikev2.TransformTypeEncr, ikev2.ENCR_AES_CBC, 128)
	propCBC.AddTransform(ikev2.TransformTypeInteg, ikev2.AUTH_HMAC_SHA2_256_128, 0)
	propCBC.AddTransform(ikev2.TransformTypeESN, 0, 0)

	propGCM := ikev2.NewProposal(2, ikev2.ProtoESP, spiBytes)
	propGCM.AddTransformWithKeyLen(ikev2.TransformTypeEncr, ikev2.ENCR_AES_GCM_16, 128)
	propGCM.AddTransform(ikev2.TransformTypeESN, 0, 0)

	saPayload := &ikev2.EncryptedPayloadSA{
		Proposals: []*ikev2.Proposal{propCBC, propGCM},
	}

	// 3. TSi / TSr (0.0.0.0/0, ::/0)
	ts4 := ikev2.NewTrafficSelectorIPV4(
		[]byte{0, 0, 0, 0}, []byte{255, 255, 255, 255},
		0, 65535,
	)
	ipv6Max := make(net.IP, net.IPv6len)
	for i := range ipv6Max {
		ipv6Max[i] = 0xff
	}
	ts6 := ikev2.NewTrafficSelectorIPV6(net.IPv6zero, ipv6Max, 0, 65535)
	tsPayloadI := &ikev2.EncryptedPayloadTS{IsInitiator: true, TrafficSelectors: []*ikev2.TrafficSelector{ts4, ts6}}
	tsPayloadR := &ikev2.EncryptedPayloadTS{IsInitiator: false, TrafficSelectors: []*ikev2.TrafficSelector{ts4, ts6}}

	notifyPayload := &ikev2.EncryptedPayloadNotify{
		ProtocolID: ikev2.ProtoIKE,
		NotifyType: ikev2.EAP_ONLY_AUTHENTICATION,
	}

	payloads := []ikev2.Payload{idPayload, idrPayload, cpPayload, saPayload, tsPayloadI, tsPayloadR, notifyPayload}
	if p, ok := s.cfg.SIM.(sim.IMEIProvider); ok {
		if imei, err := p.GetIMEI(); err == nil && imei != "" {
			data := append([]byte{0x01}, []byte(imei)...)
			payloads = append(payloads, &ikev2.EncryptedPayloadNotify{
				ProtocolID: ikev2.ProtoIKE,
				NotifyType: ikev2.DEVICE_IDENTITY_3GPP,
				NotifyData: data,
			})
			devicePayload := &ikev2.EncryptedPayloadNotify{
				ProtocolID: ikev2.ProtoIKE,
				NotifyType: ikev2.DEVICE_IDENTITY,
				NotifyData: data,
			}
			payloads = append(payloads, devicePayload)
		}
	}
	return payloads, nil
}

// ensureEAPSession 按 cfg.EAPMethod 惰性创建内层 EAP 方法状态机，整个
// IKE_AUTH 生命周期只创建一次，交由 pkg/eapaka 驱动 Identity/Challenge
// 状态转换 (spec §4.5)。
func (s *Session) ensureEAPSession() *eapaka.Session {
	if s.eapSession != nil {
		return s.eapSession
	}
	method := eapaka.MethodAKA
	switch s.cfg.EAPMethod {
	case "akap":
		method = eapaka.MethodAKAPrime
	case "sim":
		method = eapaka.MethodSIM
	case "mschapv2":
		method = eapaka.MethodMSCHAPv2
	}
	sess := eapaka.New(method, s.cfg.SIM)
	sess.DisableMACValidation = s.cfg.DisableEAPMACValidation
	sess.NetworkName = s.cfg.NetworkName
	sess.RejectNameMismatch = s.cfg.RejectNameMismatch
	sess.Credentials = s.cfg.Credentials
	// Identity 用 IDi 相同的完整 NAI (含 realm)，与 buildIKEAuthInitPayloads
	// 发送的 IDi 保持一致：3GPP TS 23.003 根 NAI 同时充当 AT_IDENTITY 的值
	// 和 MK 推导的 Identity 输入。
	if s.cfg.SIM != nil {
		if imsi, err := s.cfg.SIM.GetIMSI(); err == nil && imsi != "" {
			sess.Identity = []byte(buildNAI(imsi, s.cfg))
		}
	}
	s.eapSession = sess
	return sess
}

// handleEAP 把一条解密后的 EAP 消息交给内层方法状态机处理，返回需要
// 在下一条 IKE_AUTH 请求里携带的 EAP 响应载荷 (nil 表示 EAP 循环结束，
// 既可能是 EAP-Success 也可能是终止性 Notification-Failure)。
func (s *Session) handleEAP(eapRaw []byte) ([]ikev2.Payload, error) {
	pkt, err := eap.Parse(eapRaw)
	if err != nil {
		return nil, err
	}

	sess := s.ensureEAPSession()

	var respBytes []byte
	switch sess.Method {
	case eapaka.MethodMSCHAPv2:
		if pkt.Code != eap.CodeRequest || len(pkt.Data) < 4 {
			return nil, fmt.Errorf("EAP-MSCHAPv2 报文格式错误 (code=%d len=%d)", pkt.Code, len(pkt.Data))
		}
		respBytes, err = sess.StepMSCHAPv2(pkt.Identifier, pkt.Data[0], pkt.Data)
	case eapaka.MethodSIM:
		respBytes, err = sess.StepSIM(eapRaw)
	default:
		respBytes, err = sess.Step(eapRaw)
	}
	if err != nil {
		return nil, err
	}

	if sess.State == eapaka.StateFinal {
		s.Logger.Info("EAP 方法状态机到达终态", logger.String("outcome", sess.Outcome.String()))
		if sess.Outcome == eapaka.OutcomeFailure {
			return nil, fmt.Errorf("EAP 认证失败")
		}
		if len(sess.MSK) > 0 {
			s.MSK = sess.MSK
		}
	}

	if respBytes == nil {
		// EAP-Success 或终止性 Failure-Notification：EAP 循环到此结束，
		// AUTH 载荷留到 sendIKEAuthFinal 的独立交换中发送。
		return nil, nil
	}

	eapPayload := &ikev2.EncryptedPayloadEAP{EAPMessage: respBytes}
	return []ikev2.Payload{eapPayload}, nil
}

func (s *Session) sendIKEAuthEAP(payloads []ikev2.Payload) error {
	// 包装载荷在 SK 中
	data, err := s.encryptAndWrap(payloads, ikev2.IKE_AUTH, false)
	if err != nil {
		return err
	}
	return s.socket.SendIKE(data)
}

func (s *Session) sendIKEAuthFinal() error {
	payloads, err := s.buildIKEAuthFinalPayloads()
	if err != nil {
		return err
	}

	data, err := s.encryptAndWrap(payloads, ikev2.IKE_AUTH, false)
	if err != nil {
		return err
	}

	return s.socket.SendIKE(data)
}

func (s *Session) buildIKEAuthFinalPayloads() ([]ikev2.Payload, error) {
	// Message 6: SK { AUTH }
	// AUTH = prf( prf(MSK, "Key Pad for IKEv2"), <SignedOctets> )
	// SignedOctets = RealMessage1 | NonceR_Data | prf(SK_pi, IDi_Body)

	if len(s.MSK) == 0 {
		return nil, errors.New("MSK 不可用作 AUTH")
	}

	// 1. 计算 Auth Key
	keyPad := []byte("Key Pad for IKEv2")
	prf := s.PRFAlg
	if prf == nil {
		return nil, errors.New("PRF 不可用")
	}

	authKey := prf.Compute(s.MSK, keyPad)

	// 2. 计算签名八位字节
	// 2a. RealMessage1 (IKE_SA_INIT 请求)
	// 我们把它存储在 s.msgBuffer 了吗？
	// 确保 s.msgBuffer 正是发送的内容。
	if len(s.msgBuffer) == 0 {
		return nil, errors.New("SA_INIT 请求未存储")
	}

	// 2b. NonceR
	if len(s.nr) == 0 {
		return nil, errors.New("NonceR 不可用")
	}

	// 2c. prf(SK_pi, IDi_Body)
	// 重建 IDi Body
	imsi, _ := s.cfg.SIM.GetIMSI()
	nai := buildNAI(imsi, s.cfg)

	// ID 载荷主体: IDType(1 byte) + Reserved(3 bytes) + IDData
	// IDType = ID_RFC822_ADDR (3)
	idiBody := make([]byte, 4+len(nai))
	idiBody[0] = ikev2.ID_RFC822_ADDR
	copy(idiBody[4:], []byte(nai))

	idHash := prf.Compute(s.Keys.SK_pi, idiBody)

	// 组合八位字节签名
	signedOctets := append(append(append([]byte(nil), s.msgBuffer...), s.nr...), idHash...)
	authData := prf.Compute(authKey, signedOctets)

	// 3. 构造 AUTH 载荷
	authPayload := &ikev2.EncryptedPayloadAuth{
		AuthMethod: ikev2.AuthMethodSharedKey, // 2 = Shared Key MIC
		AuthData:   authData,
	}
	return []ikev2.Payload{authPayload}, nil
}

func (s *Session) handleIKEAuthFinalResp(data []byte) error {
	_, payloads, err := s.decryptAndParse(data)
	if err != nil {
		return fmt.Errorf("解析 IKE_AUTH 最终响应失败: %v", err)
	}

	var saPayload *ikev2.EncryptedPayloadSA
	var cpPayload *ikev2.EncryptedPayloadCP
	var tsiPayload *ikev2.EncryptedPayloadTS
	var tsrPayload *ikev2.EncryptedPayloadTS
	var kePayload *ikev2.EncryptedPayloadKE
	for _, pl := range payloads {
		switch p := pl.(type) {
		case *ikev2.EncryptedPayloadSA:
			saPayload = p
		case *ikev2.EncryptedPayloadKE:
			kePayload = p
		case *ikev2.EncryptedPayloadCP:
			cpPayload = p
		case *ikev2.EncryptedPayloadTS:
			if p.IsInitiator {
				tsiPayload = p
			} else {
				tsrPayload = p
			}
		case *ikev2.EncryptedPayloadNotify:
			if p.NotifyType < 16384 {
				return fmt.Errorf("IKE_AUTH 返回错误通知: type=%d proto=%d spi=%x data=%x", p.NotifyType, p.ProtocolID, p.SPI, p.NotifyData)
			}
		}
	}

	if saPayload == nil || len(saPayload.Proposals) == 0 {
		return errors.New("IKE_AUTH 最终响应缺少 Child SA")
	}

	respProp := saPayload.Proposals[0]
	if len(respProp.SPI) < 4 {
		return errors.New("IKE_AUTH 最终响应的 Child SA SPI 缺失")
	}
	remoteSPI := binary.BigEndian.Uint32(respProp.SPI[:4])

	var encrID uint16
	var encrKeyLenBits int
	var integID uint16
	var dhID uint16
	for _, t := range respProp.Transforms {
		if t.Type == ikev2.TransformTypeEncr {
			encrID = uint16(t.ID)
			for _, a := range t.Attributes {
				if a.Type == ikev2.AttributeKeyLength {
					encrKeyLenBits = int(a.Val)
				}
			}
		}
		if t.Type == ikev2.TransformTypeInteg {
			integID = uint16(t.ID)
		}
		if t.Type == ikev2.TransformTypeDH {
			dhID = uint16(t.ID)
		}
	}
	if encrID == 0 {
		return errors.New("IKE_AUTH 最终响应缺少加密算法选择")
	}

	childEnc, err := crypto.GetEncrypterWithKeyLen(encrID, encrKeyLenBits)
	if err != nil {
		return fmt.Errorf("不支持的 Child SA 加密算法: %d", encrID)
	}

	isAEAD := encrID == uint16(ikev2.ENCR_AES_GCM_16) || encrID == uint16(ikev2.ENCR_AES_GCM_12) || encrID == uint16(ikev2.ENCR_AES_GCM_8)
	encKeyLen := childEnc.KeySize()
	saltLen := 0
	integKeyLen := 0
	var integAlg crypto.IntegrityAlgorithm
	if isAEAD {
		saltLen = 4
	} else {
		integAlg, err = crypto.GetIntegrityAlgorithm(integID)
		if err != nil {
			return fmt.Errorf("不支持的 Child SA 完整性算法: %d", integID)
		}
		integKeyLen = integAlg.KeySize()
	}
	keyMatLen := 2 * (encKeyLen + saltLen + integKeyLen)

	seed := make([]byte, 0, len(s.ni)+len(s.nr))
	seed = append(seed, s.ni...)
	seed = append(seed, s.nr...)
	if dhID != 0 {
		if s.childDH == nil || kePayload == nil || len(kePayload.KEData) == 0 {
			return errors.New("Child SA 需要 PFS，但缺少 KE 载荷")
		}
		if _, err := s.childDH.ComputeSharedSecret(kePayload.KEData); err != nil {
			return fmt.Errorf("Child SA DH 计算失败: %v", err)
		}
		seed = append(seed, s.childDH.SharedKey...)
	}

	keyMat, err := crypto.PrfPlus(s.PRFAlg, s.Keys.SK_d, seed, keyMatLen)
	if err != nil {
		return err
	}

	cursor := 0
	outEncKey := keyMat[cursor : cursor+encKeyLen+saltLen]
	cursor += encKeyLen + saltLen
	outIntegKey := []byte(nil)
	if !isAEAD {
		outIntegKey = keyMat[cursor : cursor+integKeyLen]
		cursor += integKeyLen
	}
	inEncKey := keyMat[cursor : cursor+encKeyLen+saltLen]
	cursor += encKeyLen + saltLen
	inIntegKey := []byte(nil)
	if !isAEAD {
		inIntegKey = keyMat[cursor : cursor+integKeyLen]
	}

	if s.childSPI == 0 {
		return errors.New("本端 Child SA SPI 未初始化")
	}

	if isAEAD {
		s.ChildSAOut = ipsec.NewSecurityAssociation(remoteSPI, childEnc, outEncKey, nil)
		s.ChildSAOut.RemoteSPI = s.childSPI

		s.ChildSAIn = ipsec.NewSecurityAssociation(s.childSPI, childEnc, inEncKey, nil)
		s.ChildSAIn.RemoteSPI = remoteSPI
	} else {
		s.ChildSAOut = ipsec.NewSecurityAssociationCBC(remoteSPI, childEnc, outEncKey, integAlg, outIntegKey)
		s.ChildSAOut.RemoteSPI = s.childSPI

		s.ChildSAIn = ipsec.NewSecurityAssociationCBC(s.childSPI, childEnc, inEncKey, integAlg, inIntegKey)
		s.ChildSAIn.RemoteSPI = remoteSPI
	}
	if s.ChildSAsIn != nil {
		s.ChildSAsIn[s.childSPI] = s.ChildSAIn
	}

	// 保存 Child SA 算法 ID (供用户空间 ESP 封装选择密码套件使用)
	s.childEncrID = encrID
	s.childIntegID = integID
	s.childEncrKeyLenBits = encrKeyLenBits

	if s.ws != nil {
		s.ws.LogChildSA(s.childSPI, remoteSPI, s.cfg.LocalAddr, s.cfg.EpDGAddr, inEncKey, outEncKey, encrID)
	}

	if cpPayload != nil {
		if cpPayload.Attributes != nil {
			types := make([]int, 0, len(cpPayload.Attributes))
			for _, a := range cpPayload.Attributes {
				if a == nil {
					continue
				}
				types = append(types, int(a.Type))
			}
			s.Logger.Info("CP 属性类型", logger.Any("types", types))
		}
		s.cpConfig = ikev2.ParseCPConfig(cpPayload)
		if s.cpConfig != nil {
			toStrings := func(ips []net.IP) []string {
				out := make([]string, 0, len(ips))
				for _, ip := range ips {
					if ip == nil {
						continue
					}
					out = append(out, ip.String())
				}
				return out
			}
			ipv4 := ""
			if len(s.cpConfig.IPv4Addresses) > 0 && s.cpConfig.IPv4Addresses[0] != nil {
				ipv4 = s.cpConfig.IPv4Addresses[0].String()
			}
			ipv6 := ""
			if len(s.cpConfig.IPv6Addresses) > 0 && s.cpConfig.IPv6Addresses[0] != nil {
				ipv6 = s.cpConfig.IPv6Addresses[0].String()
			}
			s.Logger.Info("CP 配置已下发",
				logger.String("ipv4", ipv4),
				logger.String("ipv6", ipv6),
				logger.Int("dns_v4", len(s.cpConfig.IPv4DNS)),
				logger.Int("dns_v6", len(s.cpConfig.IPv6DNS)),
				logger.Int("pcscf_v4", len(s.cpConfig.IPv4PCSCF)),
				logger.Int("pcscf_v6", len(s.cpConfig.IPv6PCSCF)),
				logger.Any("pcscf_v4_ips", toStrings(s.cpConfig.IPv4PCSCF)),
				logger.Any("pcscf_v6_ips", toStrings(s.cpConfig.IPv6PCSCF)),
			)
		}
	}
	if tsiPayload != nil {
		s.tsi = tsiPayload.TrafficSelectors
	}
	if tsrPayload != nil {
		s.tsr = tsrPayload.TrafficSelectors
	}
	if len(s.tsr) > 0 && s.ChildSAOut != nil {
		s.childOutPolicies = append(s.childOutPolicies, childOutPolicy{saOut: s.ChildSAOut, tsr: s.tsr})
	}

	s.Logger.Info("Child SA 已建立", logger.Uint32("localSPI", s.childSPI), logger.Uint32("remoteSPI", remoteSPI))
	return nil
}
