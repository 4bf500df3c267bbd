// Package net carries small TCP-tuning helpers; the agent applies them to
// its rendezvous connection and to each local Minecraft connection.
package net

import (
	"net"
	"time"
)

// OptimizeTCPConn disables Nagle and enables keepalive with generous send
// and receive buffers, sized for proxying many short-lived Minecraft
// connections rather than one bulk transfer.
func OptimizeTCPConn(conn net.Conn) error {
	tcpConn, ok := conn.(*net.TCPConn)
	if !ok {
		return nil
	}

	if err := tcpConn.SetNoDelay(true); err != nil {
		return err
	}
	if err := tcpConn.SetKeepAlive(true); err != nil {
		return err
	}
	if err := tcpConn.SetKeepAlivePeriod(30 * time.Second); err != nil {
		return err
	}
	if err := tcpConn.SetReadBuffer(512 * 1024); err != nil {
		return err
	}
	if err := tcpConn.SetWriteBuffer(512 * 1024); err != nil {
		return err
	}
	return nil
}

// SetTCPDeadlines applies read and write deadlines to conn; a zero
// duration leaves the corresponding deadline untouched.
func SetTCPDeadlines(conn net.Conn, readTimeout, writeTimeout time.Duration) error {
	if readTimeout > 0 {
		if err := conn.SetReadDeadline(time.Now().Add(readTimeout)); err != nil {
			return err
		}
	}
	if writeTimeout > 0 {
		if err := conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
			return err
		}
	}
	return nil
}
