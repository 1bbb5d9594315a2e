// Copyright 2025 The icinga2 Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command pingpong runs two endpoint managers in one process, connects
// them over mutual TLS and exchanges a request/response pair.
package main

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"fmt"
	"log"
	"math/big"
	"net"
	"time"

	icinga2 "github.com/dominik-r-s/icinga2"
	"github.com/dominik-r-s/icinga2/tlsconf"
)

func main() {
	ca, caKey := newCA()
	pool := x509.NewCertPool()
	pool.AddCert(ca)

	alphaCtx, err := tlsconf.NewContext(issue(ca, caKey, "alpha"), pool)
	if err != nil {
		log.Fatal(err)
	}
	betaCtx, err := tlsconf.NewContext(issue(ca, caKey, "beta"), pool)
	if err != nil {
		log.Fatal(err)
	}

	alpha := icinga2.NewEndpointManager(icinga2.WithTickInterval(time.Second))
	defer alpha.Close()
	alpha.SetTLSContext(alphaCtx)
	if err := alpha.SetIdentity("alpha"); err != nil {
		log.Fatal(err)
	}

	beta := icinga2.NewEndpointManager(icinga2.WithTickInterval(time.Second))
	defer beta.Close()
	beta.SetTLSContext(betaCtx)
	if err := beta.SetIdentity("beta"); err != nil {
		log.Fatal(err)
	}

	// A local service endpoint on alpha that answers demo::Ping. The
	// handler also lives on the identity endpoint, which advertises the
	// aggregated subscriptions and may be picked by anycast.
	handler := func(sender *icinga2.Endpoint, req *icinga2.Message) error {
		fmt.Printf("alpha: ping from %q\n", sender.Name())
		resp := icinga2.NewResponse(req.ID)
		if err := resp.SetResult("pong"); err != nil {
			return err
		}
		alpha.SendUnicastMessage(nil, sender, resp)
		return nil
	}
	svc := alpha.MakeEndpoint("ping-service", false, true)
	svc.RegisterTopicHandler("demo::Ping", handler)
	alpha.IdentityEndpoint().RegisterTopicHandler("demo::Ping", handler)

	addr, err := alpha.AddListener("0")
	if err != nil {
		log.Fatal(err)
	}
	_, port, _ := net.SplitHostPort(addr.String())

	if err := beta.AddConnection("127.0.0.1", port); err != nil {
		log.Fatal(err)
	}

	done := make(chan struct{})
	req := icinga2.NewRequest("demo::Ping")
	err = beta.SendAPIMessage(beta.IdentityEndpoint(), beta.GetEndpointByName("alpha"), req,
		func(sender *icinga2.Endpoint, request, response *icinga2.Message, timedOut bool) {
			if timedOut {
				fmt.Println("beta: ping timed out")
			} else {
				var result string
				if err := response.GetResult(&result); err == nil {
					fmt.Printf("beta: got %q\n", result)
				}
			}
			close(done)
		}, 10*time.Second)
	if err != nil {
		log.Fatal(err)
	}

	<-done
}

func newCA() (*x509.Certificate, *ecdsa.PrivateKey) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		log.Fatal(err)
	}
	tmpl := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: "demo-ca"},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(24 * time.Hour),
		IsCA:                  true,
		KeyUsage:              x509.KeyUsageCertSign,
		BasicConstraintsValid: true,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		log.Fatal(err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		log.Fatal(err)
	}
	return cert, key
}

func issue(ca *x509.Certificate, caKey *ecdsa.PrivateKey, cn string) tls.Certificate {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		log.Fatal(err)
	}
	serial, err := rand.Int(rand.Reader, big.NewInt(1<<62))
	if err != nil {
		log.Fatal(err)
	}
	tmpl := &x509.Certificate{
		SerialNumber: serial,
		Subject:      pkix.Name{CommonName: cn},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(24 * time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth},
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, ca, &key.PublicKey, caKey)
	if err != nil {
		log.Fatal(err)
	}
	return tls.Certificate{Certificate: [][]byte{der}, PrivateKey: key}
}
