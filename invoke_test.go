package rpc

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/haandol/island/codec"
	"github.com/haandol/island/rpcerr"
)

func TestDecodeInvokeResultSuccess(t *testing.T) {
	env := codec.EncodeResult("ok")
	res, err := decodeInvokeResult("echo", env, InvokeOptions{})
	assert.NoError(t, err)
	assert.Equal(t, "ok", res.Body)
	assert.Equal(t, codec.Envelope{}, res.Raw)
}

func TestDecodeInvokeResultSuccessWithRawData(t *testing.T) {
	env := codec.EncodeResult("ok")
	res, err := decodeInvokeResult("echo", env, InvokeOptions{WithRawData: true})
	assert.NoError(t, err)
	assert.Equal(t, env, res.Raw)
}

func TestDecodeInvokeResultFailure(t *testing.T) {
	wireErr := rpcerr.WrongParameterSchema("validate", nil)
	env := codec.EncodeError(wireErr, "callee-island")
	_, err := decodeInvokeResult("validate", env, InvokeOptions{})
	var rerr *rpcerr.Error
	assert.ErrorAs(t, err, &rerr)
	assert.Equal(t, rpcerr.Logic, rerr.Kind)
}

func TestDecodeInvokeResultUndecodable(t *testing.T) {
	env := codec.Decode([]byte("not json"), nil)
	_, err := decodeInvokeResult("echo", env, InvokeOptions{})
	var rerr *rpcerr.Error
	assert.ErrorAs(t, err, &rerr)
	assert.Equal(t, rpcerr.KeyUndecodableReply, rerr.Key)
}

func TestAttachTattooPreservesTypedError(t *testing.T) {
	err := attachTattoo(rpcerr.RPCTimeout("echo", 0), "T1")
	var rerr *rpcerr.Error
	assert.ErrorAs(t, err, &rerr)
	assert.Equal(t, "T1", rerr.Extra["tattoo"])
}

func TestAttachTattooWrapsPlainError(t *testing.T) {
	err := attachTattoo(assert.AnError, "T2")
	var rerr *rpcerr.Error
	assert.ErrorAs(t, err, &rerr)
	assert.Equal(t, "T2", rerr.Extra["tattoo"])
}
